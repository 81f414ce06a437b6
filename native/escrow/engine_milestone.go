package escrow

import "fmt"

// ReleaseMilestone pays one milestone to the freelancer. Releasing the last
// milestone of a delivered job settles it in the same call.
func (e *Engine) ReleaseMilestone(caller [20]byte, id uint64, index int) error {
	return e.execute("release_milestone", true, func(c *call) error {
		job, err := loadJob(c.tx, id)
		if err != nil {
			return err
		}
		if caller != job.Client {
			return fmt.Errorf("%w: only the client may release milestones", ErrNotAuthorized)
		}
		if err := requireStatus(job, StatusAccepted, StatusOngoing); err != nil {
			return err
		}
		if index < 0 || index >= len(job.Milestones) {
			return fmt.Errorf("%w: milestone index %d out of range", ErrInvalidAmount, index)
		}
		if job.Milestones[index].Released {
			return fmt.Errorf("%w: job %d milestone %d", ErrMilestoneAlreadyReleased, id, index)
		}
		if err := releaseMilestone(c, job, index); err != nil {
			return err
		}
		if job.AllMilestonesReleased() && job.WorkSubmitted() {
			if _, err := e.settle(c, job, 0); err != nil {
				return err
			}
		}
		return storeJob(c.tx, job)
	})
}

// releaseMilestone flips the flag before crediting so a milestone can never
// be paid twice.
func releaseMilestone(c *call, job *Job, index int) error {
	m := job.Milestones[index]
	m.Released = true
	m.ReleasedAt = c.now
	if err := creditBalance(c.tx, job.Freelancer, job.Asset, m.Amount); err != nil {
		return err
	}
	c.emit(NewMilestoneReleasedEvent(job, index))
	return nil
}

// releaseUpfront pays every upfront milestone not yet released. It runs once
// a freelancer is bound, either at creation or when picked.
func releaseUpfront(c *call, job *Job) error {
	for i, m := range job.Milestones {
		if !m.Upfront || m.Released {
			continue
		}
		if err := releaseMilestone(c, job, i); err != nil {
			return err
		}
	}
	return nil
}
