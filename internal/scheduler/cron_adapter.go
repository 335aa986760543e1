package scheduler

import "github.com/robfig/cron/v3"

// RobfigCronEngine adapts robfig/cron/v3 to CronEngine. Standard 5-field
// cron expressions and @every descriptors are accepted.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine returns a ready engine; call Start to begin firing.
func NewRobfigCronEngine() *RobfigCronEngine {
	return &RobfigCronEngine{c: cron.New()}
}

// AddFunc schedules cmd on the given spec and returns the entry ID for Remove.
func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

// Remove drops a previously registered entry.
func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

// Start begins firing schedules in a background goroutine.
func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

// Stop halts firing. Registered entries survive a later Start.
func (r *RobfigCronEngine) Stop() {
	r.c.Stop()
}
