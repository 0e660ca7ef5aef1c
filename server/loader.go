package server

import (
	"log/slog"

	"github.com/notminecraft/notminecraft/internal/abort"
	"github.com/notminecraft/notminecraft/server/save"
	"github.com/notminecraft/notminecraft/world"
	"github.com/notminecraft/notminecraft/world/chunk"
	"github.com/notminecraft/notminecraft/world/generator"
	"github.com/segmentio/fasthash/fnv1a"
)

// chunkLoader runs the generate-or-read jobs producing chunk data for the
// server. Jobs are sharded over the workers by a hash of the chunk position,
// so every request for the same chunk runs on the same worker, in
// submission order.
type chunkLoader struct {
	log     *slog.Logger
	db      *save.DB
	gen     generator.Generator
	jobs    []chan loadJob
	results chan<- serverEvent
}

type loadJob struct {
	pos   world.ChunkPos
	guard *abort.Guard
}

func newChunkLoader(workers int, db *save.DB, gen generator.Generator, log *slog.Logger, results chan<- serverEvent) *chunkLoader {
	l := &chunkLoader{log: log, db: db, gen: gen, results: results}
	l.jobs = make([]chan loadJob, workers)
	for i := range l.jobs {
		l.jobs[i] = make(chan loadJob, 256)
		go l.work(l.jobs[i])
	}
	return l
}

// Load submits a generate-or-read job for the chunk passed and returns the
// abort guard paired with it.
func (l *chunkLoader) Load(pos world.ChunkPos) *abort.Guard {
	guard := &abort.Guard{}
	h := fnv1a.Init64
	h = fnv1a.AddUint64(h, uint64(uint32(pos[0])))
	h = fnv1a.AddUint64(h, uint64(uint32(pos[1])))
	h = fnv1a.AddUint64(h, uint64(uint32(pos[2])))
	l.jobs[h%uint64(len(l.jobs))] <- loadJob{pos: pos, guard: guard}
	return guard
}

// close closes the job queues. Each worker still works through the jobs
// already queued to it, skipping aborted ones, and then exits.
func (l *chunkLoader) close() {
	for _, ch := range l.jobs {
		close(ch)
	}
}

func (l *chunkLoader) work(jobs <-chan loadJob) {
	for job := range jobs {
		if job.guard.Aborted() {
			continue
		}
		blocks, saved := l.load(job.pos)
		if job.guard.Aborted() || blocks == nil {
			continue
		}
		l.results <- chunkReadyEvent{pos: job.pos, blocks: blocks, saved: saved, guard: job.guard}
	}
}

func (l *chunkLoader) load(pos world.ChunkPos) (*chunk.Blocks, bool) {
	if l.db != nil {
		blocks, ok, err := l.db.LoadChunk(pos)
		if err != nil {
			// A broken save entry must not take the server down: fall back
			// to generation, keeping the broken entry on disk untouched for
			// inspection.
			l.log.Error("failed reading chunk from save", "pos", pos, "err", err)
		} else if ok {
			return blocks, true
		}
	}
	blocks := chunk.NewBlocks(0)
	l.gen.GenerateChunk(pos, blocks)
	return blocks, false
}
