/*
Copyright 2022 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package termcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCoreDefaultsToConfiguredSize(t *testing.T) {
	c := New(80, 24)
	require.Equal(t, 80, c.Columns())
	require.Equal(t, 24, c.ScreenLines())
}

func TestWriteToPTYProducesWakeupEvent(t *testing.T) {
	c := New(80, 24)
	c.WriteToPTY([]byte("hello"))
	events := c.PollEvents()
	require.NotEmpty(t, events)
	require.Equal(t, EventWakeup, events[0].Kind)
}

func TestPollEventsDrainsAndEmptiesQueue(t *testing.T) {
	c := New(80, 24)
	c.WriteToPTY([]byte("a"))
	require.NotEmpty(t, c.PollEvents())
	require.Empty(t, c.PollEvents())
}

func TestWriteForwardsToConfiguredSink(t *testing.T) {
	c := New(80, 24)
	var captured []byte
	c.SetWriteSink(func(p []byte) (int, error) {
		captured = append(captured, p...)
		return len(p), nil
	})
	n, err := c.Write([]byte("ls\n"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "ls\n", string(captured))
}

func TestWriteWithoutSinkIsNoop(t *testing.T) {
	c := New(80, 24)
	n, err := c.Write([]byte("ls\n"))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestResizeUpdatesDimensions(t *testing.T) {
	c := New(80, 24)
	c.Resize(120, 40)
	require.Equal(t, 120, c.Columns())
	require.Equal(t, 40, c.ScreenLines())
}

func TestSelectionLifecycle(t *testing.T) {
	c := New(80, 24)
	require.False(t, c.HasSelection())
	c.StartSelection(0, 0)
	require.True(t, c.HasSelection())
	c.UpdateSelection(5, 0)
	text := c.SelectedText()
	require.Len(t, text, 6)
	c.ClearSelection()
	require.False(t, c.HasSelection())
	require.Equal(t, "", c.SelectedText())
}

func TestUpdateSelectionWithoutStartIsNoop(t *testing.T) {
	c := New(80, 24)
	c.UpdateSelection(5, 5)
	require.False(t, c.HasSelection())
}

func TestScrollOffsetClampsToHistoryBounds(t *testing.T) {
	c := New(80, 24)
	c.history = []string{"one", "two", "three"}
	require.Equal(t, 0, c.ScrollOffset())

	c.Scroll(2)
	require.Equal(t, 2, c.ScrollOffset())

	c.Scroll(5)
	require.Equal(t, 3, c.ScrollOffset(), "offset should clamp to history length")

	c.Scroll(-10)
	require.Equal(t, 0, c.ScrollOffset(), "offset should clamp to the live view")
}

func TestWritingPastScreenBottomPopulatesScrollback(t *testing.T) {
	c := New(10, 3)
	for i := 0; i < 10; i++ {
		c.WriteToPTY([]byte("line\r\n"))
	}

	require.NotEmpty(t, c.History(), "lines scrolled off the top should be captured")
	require.Equal(t, 0, c.ScrollOffset())

	c.Scroll(1)
	require.Equal(t, 1, c.ScrollOffset())
}
