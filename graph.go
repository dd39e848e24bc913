// Task graph recording for offline visualization.
//
// A task may call Worker.GraphFork to begin recording: every subsequent
// invocation opens a node capturing {worker, task id, function, begin/end
// timestamps}, every submission from within a task records an edge, and
// continuations record edges from a task to itself or its next phase.
// Worker.GraphJoin stops recording and optionally dumps the merged data in
// the line-oriented ASCII format consumed by the external graph viewer.
//
// Recording state is partitioned into per-worker fragments so the hooks
// never synchronize with each other; the fragments are only merged at dump
// time. The corollary is that GraphJoin must be called from a task that is
// ordered after every recorded task — normally the join node of the
// recorded subgraph — so that all fragments have quiesced.

package deadlock

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// graphRecorder accumulates one recording session.
type graphRecorder struct {
	start     time.Time
	fragments []graphFragment
	id        uint64
}

// graphFragment is a single worker's private slice of the recording.
type graphFragment struct {
	nodes  []graphNode
	edges  []graphEdge
	labels []string
}

// graphNode is one task invocation span.
type graphNode struct {
	begin  int64 // ns since recording start
	end    int64
	task   uint32
	label  int32 // index into the fragment's labels, -1 when unlabeled
	desc   int32 // index into the global description registry
	worker int32
}

// graphEdge is a scheduling edge between two task ids.
type graphEdge struct {
	head uint32
	tail uint32
}

// taskDesc statically describes a task function.
type taskDesc struct {
	file string
	fn   string
	line int
}

var graphIDCounter atomic.Uint64

// taskDescRegistry maps task function entry points to description indexes.
// Registration is once per function, not per task, so the lock is cold.
var taskDescRegistry struct {
	sync.RWMutex
	byPC map[uintptr]int32
	list []taskDesc
}

// describeTaskFn returns the registry index for fn, registering it on first
// sight with its file, line, and function name.
func describeTaskFn(fn TaskFn) int32 {
	pc := reflect.ValueOf(fn).Pointer()

	taskDescRegistry.RLock()
	id, ok := taskDescRegistry.byPC[pc]
	taskDescRegistry.RUnlock()
	if ok {
		return id
	}

	taskDescRegistry.Lock()
	defer taskDescRegistry.Unlock()
	if id, ok = taskDescRegistry.byPC[pc]; ok {
		return id
	}
	if taskDescRegistry.byPC == nil {
		taskDescRegistry.byPC = make(map[uintptr]int32)
	}
	desc := taskDesc{file: "??", fn: "??"}
	if f := runtime.FuncForPC(pc); f != nil {
		desc.fn = f.Name()
		desc.file, desc.line = f.FileLine(f.Entry())
	}
	id = int32(len(taskDescRegistry.list))
	taskDescRegistry.list = append(taskDescRegistry.list, desc)
	taskDescRegistry.byPC[pc] = id
	return id
}

func newGraphRecorder(workers int) *graphRecorder {
	return &graphRecorder{
		start:     time.Now(),
		fragments: make([]graphFragment, workers),
		id:        graphIDCounter.Add(1),
	}
}

func (g *graphRecorder) since() int64 {
	return time.Since(g.start).Nanoseconds()
}

// GraphFork begins a new graph recording. A node is opened retroactively
// for the current invocation so the forking task appears in the dump. The
// call is a no-op unless the scheduler was started with WithGraphExport;
// forking while a recording is already active is a programming error.
func (w *Worker) GraphFork() {
	if !w.sched.opts.graphExport {
		return
	}
	g := newGraphRecorder(len(w.sched.workers))
	if !w.sched.graph.CompareAndSwap(nil, g) {
		panic("deadlock: graph fork while a recording is active")
	}
	if w.current != nil {
		w.openNode(g, w.current)
	}
}

// GraphJoin ends the current graph recording and, when prefix is not
// empty, dumps it to "<prefix>.<id>.dlgraph". The span of the joining
// invocation is included with its end time truncated to the join.
//
// Must be called from a task ordered after every recorded task, so that no
// worker is still appending to its fragment.
func (w *Worker) GraphJoin(prefix string) error {
	if !w.sched.opts.graphExport {
		return nil
	}
	g := w.sched.graph.Load()
	if g == nil {
		return ErrGraphInactive
	}
	if w.nodeOpen {
		w.closeNode()
	}
	w.sched.graph.Store(nil)
	if prefix == "" {
		return nil
	}
	if err := g.dump(prefix); err != nil {
		w.sched.log(LevelError, "graph", w.index, "graph dump failed", err)
		return err
	}
	w.sched.log(LevelInfo, "graph", w.index, "graph dumped", nil)
	return nil
}

// GraphLabel labels the current invocation's node, printf style. No-op
// when no recording is active.
func (w *Worker) GraphLabel(format string, args ...any) {
	if !w.nodeOpen {
		return
	}
	frag := &w.curGraph.fragments[w.index]
	w.node.label = int32(len(frag.labels))
	frag.labels = append(frag.labels, fmt.Sprintf(format, args...))
}

// taskID returns t's recording id, assigning {worker byte, per-worker
// counter} on first sight.
func (w *Worker) taskID(t *Task) uint32 {
	if id := t.id.Load(); id != 0 {
		return id
	}
	w.taskCounter++
	id := uint32(w.index)<<24 | (w.taskCounter & 0xffffff)
	if t.id.CompareAndSwap(0, id) {
		return id
	}
	return t.id.Load()
}

// openNode starts the span for an invocation of t.
func (w *Worker) openNode(g *graphRecorder, t *Task) {
	w.curGraph = g
	w.node = graphNode{
		begin:  g.since(),
		task:   w.taskID(t),
		label:  -1,
		desc:   describeTaskFn(t.fn),
		worker: int32(w.index),
	}
	w.nodeOpen = true
}

// closeNode finishes the current span and appends it to this worker's
// fragment.
func (w *Worker) closeNode() {
	g := w.curGraph
	w.node.end = g.since()
	frag := &g.fragments[w.index]
	frag.nodes = append(frag.nodes, w.node)
	w.nodeOpen = false
	w.curGraph = nil
}

// recordEdge records a scheduling edge from the current invocation to t.
func (w *Worker) recordEdge(t *Task) {
	if !w.nodeOpen {
		return
	}
	frag := &w.curGraph.fragments[w.index]
	frag.edges = append(frag.edges, graphEdge{head: w.node.task, tail: w.taskID(t)})
}

// recordContinuation records the edge for a tail, continuation, or
// recapture. Continuations share the edge table; a tail shows up as a
// self-edge.
func (w *Worker) recordContinuation(t *Task) {
	w.recordEdge(t)
}

// dump writes the recording in the viewer's format: a description table,
// an edge list, and a node list, all ASCII, one record per line group.
func (g *graphRecorder) dump(prefix string) error {
	f, err := os.Create(fmt.Sprintf("%s.%d.dlgraph", prefix, g.id))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)

	taskDescRegistry.RLock()
	descs := taskDescRegistry.list
	taskDescRegistry.RUnlock()

	fmt.Fprintf(bw, "%d node descriptions\n", len(descs))
	for _, d := range descs {
		fmt.Fprintf(bw, "%s\n%d\n%s\n", d.file, d.line, d.fn)
	}

	var edges, nodes int
	for i := range g.fragments {
		edges += len(g.fragments[i].edges)
		nodes += len(g.fragments[i].nodes)
	}

	fmt.Fprintf(bw, "%d edges\n", edges)
	for i := range g.fragments {
		for _, e := range g.fragments[i].edges {
			fmt.Fprintf(bw, "%d %d\n", e.head, e.tail)
		}
	}

	fmt.Fprintf(bw, "%d nodes\n", nodes)
	for i := range g.fragments {
		frag := &g.fragments[i]
		for _, n := range frag.nodes {
			label := ""
			if n.label >= 0 {
				label = frag.labels[n.label]
			}
			fmt.Fprintf(bw, "%s\n%d %d %d %d %d\n",
				label, n.worker, n.task, n.desc, n.begin, n.end)
		}
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
