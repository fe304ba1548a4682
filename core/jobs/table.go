package jobs

import (
	"sort"
)

// Table maps job ids to jobs and tracks the current job.
//
// Table is not safe for concurrent use; the job control manager serializes
// access to it.
type Table struct {
	jobs    map[int]*Job
	current int
}

func NewTable() *Table {
	return &Table{jobs: make(map[int]*Job)}
}

// Create allocates a job with the lowest id above every id in use. An id
// is never handed out while a job with a higher id exists, and ids are
// handed out again once the jobs holding them are gone, so foreground
// commands that came and went do not push up the numbers of later
// background jobs.
func (t *Table) Create(command string, pgid int) *Job {
	job := &Job{ID: t.greatest(0) + 1, PGID: pgid, Command: command, Notified: true}
	t.jobs[job.ID] = job
	return job
}

// Adopt moves a job from another table into t under a fresh id and
// returns it.
func (t *Table) Adopt(job *Job) *Job {
	job.ID = t.greatest(0) + 1
	t.jobs[job.ID] = job
	return job
}

// AddProcess appends a process to the job in pipeline order. The first
// process of a job without a process group becomes the group leader.
func (t *Table) AddProcess(id, pid int, command string) (*Process, bool) {
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	if job.PGID == 0 {
		job.PGID = pid
	}
	p := NewProcess(pid, command)
	job.Processes = append(job.Processes, p)
	return p, true
}

func (t *Table) Find(id int) (*Job, bool) {
	job, ok := t.jobs[id]
	return job, ok
}

// FindByPID returns the job owning the pid along with the process.
func (t *Table) FindByPID(pid int) (*Job, *Process) {
	for _, job := range t.jobs {
		if p := job.FindProcess(pid); p != nil {
			return job, p
		}
	}
	return nil, nil
}

func (t *Table) Remove(id int) {
	if _, ok := t.jobs[id]; !ok {
		return
	}
	delete(t.jobs, id)
	if t.current == id {
		t.current = t.greatest(0)
	}
}

// SetCurrent marks the job as the one bare fg and bg act on.
func (t *Table) SetCurrent(id int) bool {
	if _, ok := t.jobs[id]; !ok {
		return false
	}
	t.current = id
	return true
}

// Current returns the current job, falling back to the most recently
// created one.
func (t *Table) Current() (*Job, bool) {
	if job, ok := t.jobs[t.current]; ok {
		return job, true
	}
	return t.Find(t.greatest(0))
}

// Previous returns the job that would become current if the current job
// went away.
func (t *Table) Previous() (*Job, bool) {
	cur, ok := t.Current()
	if !ok {
		return nil, false
	}
	return t.Find(t.greatest(cur.ID))
}

// CurrentID returns the id the current pointer holds, 0 when unset.
func (t *Table) CurrentID() int {
	return t.current
}

// Jobs returns all jobs ordered by id.
func (t *Table) Jobs() []*Job {
	out := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Table) Len() int {
	return len(t.jobs)
}

// greatest returns the largest id other than skip, or 0.
func (t *Table) greatest(skip int) int {
	max := 0
	for id := range t.jobs {
		if id != skip && id > max {
			max = id
		}
	}
	return max
}
