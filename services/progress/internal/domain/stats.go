package domain

// Stats summarizes a set of progress records.
type Stats struct {
	TotalVideos       int     `json:"totalVideos"`
	TotalWatchTime    float64 `json:"totalWatchTime"`
	AverageCompletion float64 `json:"averageCompletion"`
	CompletedVideos   int     `json:"completedVideos"`
}

// ComputeStats folds records into Stats. AverageCompletion is the plain mean
// of percentages and is 0 for an empty input.
func ComputeStats(records []*Progress) Stats {
	var st Stats
	var pctSum float64
	for _, p := range records {
		st.TotalVideos++
		st.TotalWatchTime += p.WatchedTime()
		pctSum += p.Percentage
		if p.IsCompleted {
			st.CompletedVideos++
		}
	}
	if st.TotalVideos > 0 {
		st.AverageCompletion = pctSum / float64(st.TotalVideos)
	}
	return st
}

// Rounded returns st with the float fields rounded to two decimals.
func (st Stats) Rounded() Stats {
	st.TotalWatchTime = Round2(st.TotalWatchTime)
	st.AverageCompletion = Round2(st.AverageCompletion)
	return st
}
