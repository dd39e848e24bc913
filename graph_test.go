package deadlock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGraphRecordsAndDumps forks a recording, runs a small fan-out, joins
// from the join node, and validates the dump's shape.
func TestGraphRecordsAndDumps(t *testing.T) {
	const children = 8

	dir := t.TempDir()
	prefix := filepath.Join(dir, "graph")

	var joinErr error
	join := Create(func(w *Worker, _ *Task) {
		w.GraphLabel("join of %d children", children)
		joinErr = w.GraphJoin(prefix)
		w.Terminate()
	}, nil)

	// Root also joins on the join task, so every recording fragment —
	// including root's own node, appended as its invocation closes — has
	// quiesced before GraphJoin reads them.
	root := Create(func(w *Worker, _ *Task) {
		w.GraphFork()
		w.GraphLabel("root")
		for i := 0; i < children; i++ {
			child := Create(func(*Worker, *Task) {}, join)
			w.Detach(child)
		}
		w.Detach(join)
	}, join)

	require.NoError(t, MainN(root, nil, nil, 4, WithGraphExport(true)))
	require.NoError(t, joinErr)

	matches, err := filepath.Glob(prefix + ".*.dlgraph")
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one dump file")

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)

	readCount := func(suffix string) int {
		require.True(t, sc.Scan(), "missing %q header", suffix)
		line := sc.Text()
		require.True(t, strings.HasSuffix(line, suffix), "line %q", line)
		var n int
		_, err := fmt.Sscanf(line, "%d", &n)
		require.NoError(t, err, "line %q", line)
		return n
	}

	nDescs := readCount(" node descriptions")
	require.Greater(t, nDescs, 0)
	for i := 0; i < nDescs; i++ {
		for _, part := range []string{"file", "line", "func"} {
			require.True(t, sc.Scan(), "desc %d missing %s line", i, part)
		}
	}

	nEdges := readCount(" edges")
	// One edge per child submission. Detaching the join task leaves it
	// waiting on the children and root, so that detach records no edge.
	assert.GreaterOrEqual(t, nEdges, children)
	for i := 0; i < nEdges; i++ {
		require.True(t, sc.Scan(), "edge %d missing", i)
		var head, tail uint32
		_, err := fmt.Sscanf(sc.Text(), "%d %d", &head, &tail)
		require.NoError(t, err, "edge line %q", sc.Text())
	}

	nNodes := readCount(" nodes")
	// Root (opened retroactively at fork), the children, and the join.
	assert.GreaterOrEqual(t, nNodes, children+2)
	sawRootLabel := false
	for i := 0; i < nNodes; i++ {
		require.True(t, sc.Scan(), "node %d missing label line", i)
		if sc.Text() == "root" {
			sawRootLabel = true
		}
		require.True(t, sc.Scan(), "node %d missing record line", i)
		var worker, desc int32
		var task uint32
		var begin, end int64
		_, err := fmt.Sscanf(sc.Text(), "%d %d %d %d %d",
			&worker, &task, &desc, &begin, &end)
		require.NoError(t, err, "node line %q", sc.Text())
		assert.LessOrEqual(t, begin, end, "node %d span inverted", i)
		assert.Less(t, desc, int32(nDescs), "node %d description out of range", i)
	}
	assert.True(t, sawRootLabel, "root label not recorded")
}

// TestGraphDisabledHooksAreInert checks fork/label/join cost nothing and
// do nothing without WithGraphExport.
func TestGraphDisabledHooksAreInert(t *testing.T) {
	root := NewTask(func(w *Worker, _ *Task) {
		w.GraphFork()
		w.GraphLabel("ignored")
		if err := w.GraphJoin("nope"); err != nil {
			t.Errorf("disabled GraphJoin returned %v", err)
		}
		w.Terminate()
	})
	require.NoError(t, MainN(root, nil, nil, 2))
}

func TestGraphJoinWithoutFork(t *testing.T) {
	var err error
	root := NewTask(func(w *Worker, _ *Task) {
		err = w.GraphJoin("nope")
		w.Terminate()
	})
	require.NoError(t, MainN(root, nil, nil, 2, WithGraphExport(true)))
	require.ErrorIs(t, err, ErrGraphInactive)
}
