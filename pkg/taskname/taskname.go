package taskname

const (
	// Score tasks
	ScoreRecomputePage = "score:recompute:page"

	// Points tasks
	PointsRebuildBalance    = "points:rebuild:balance"
	PointsFixMissingRewards = "points:fix:rewards"
)
