package testrun

func SetStatus(status Status) UpdateSetter {
	return func(tr *TestRun) error {
		if !status.IsValid() {
			return ErrInvalidStatus
		}
		tr.Status = status
		return nil
	}
}

func SetStepIndex(index int) UpdateSetter {
	return func(tr *TestRun) error {
		tr.CurrentStepIndex = index
		return nil
	}
}

func SetTotalSteps(total int) UpdateSetter {
	return func(tr *TestRun) error {
		tr.TotalSteps = total
		return nil
	}
}

func SetFailureCount(count int) UpdateSetter {
	return func(tr *TestRun) error {
		tr.FailureCount = count
		return nil
	}
}

func SetTotalCost(cost float64) UpdateSetter {
	return func(tr *TestRun) error {
		tr.TotalCost = cost
		return nil
	}
}

func SetSentimentScore(score float64) UpdateSetter {
	return func(tr *TestRun) error {
		tr.SentimentScore = &score
		return nil
	}
}

func SetCrawlExcerpt(excerpt string) UpdateSetter {
	return func(tr *TestRun) error {
		tr.CrawlExcerpt = excerpt
		return nil
	}
}

func SetReport(report string) UpdateSetter {
	return func(tr *TestRun) error {
		tr.Report = report
		return nil
	}
}
