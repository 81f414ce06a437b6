package reputation

// Profile aggregates the completion history of one account.
type Profile struct {
	Subject         [20]byte
	Score           uint64
	Completions     uint64
	RatingSum       uint64
	RatedJobs       uint64
	LastCompletedAt uint64
}

// AverageRating returns the mean of every rated completion scaled by 100, or
// zero when no job carried a rating.
func (p *Profile) AverageRating() uint64 {
	if p == nil || p.RatedJobs == 0 {
		return 0
	}
	return p.RatingSum * 100 / p.RatedJobs
}

// Credential is the completion certificate minted for a settled job.
type Credential struct {
	ID       [32]byte
	Subject  [20]byte
	JobID    uint64
	Rating   uint8
	Points   uint64
	IssuedAt uint64
}

const (
	// basePoints is awarded for every completed job.
	basePoints uint64 = 10
	// ratingPoints is awarded per rating star.
	ratingPoints uint64 = 2
)

func pointsFor(rating uint8) uint64 {
	return basePoints + uint64(rating)*ratingPoints
}
