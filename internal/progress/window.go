package progress

import "time"

const (
	DateLayout = "2006-01-02"

	RetentionDays   = 60
	ContributorDays = 30
)

type Daily map[string]int

func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Window returns the n calendar days ending on now's day, oldest first.
func Window(now time.Time, n int) []string {
	if n <= 0 {
		return nil
	}
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	days := make([]string, n)
	for i := 0; i < n; i++ {
		days[i] = today.AddDate(0, 0, i-(n-1)).Format(DateLayout)
	}
	return days
}

func Cutoff(now time.Time) string {
	return DateOf(now.AddDate(0, 0, -RetentionDays))
}
