package discovery

import (
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// InScope applies the rule's time-window test: an instrument enters scope
// once now >= close - window and never leaves by time alone. Close times can
// be game start times rather than settlement times, so there is no upper
// bound; termination is delegated to the listing API's open/closed filter.
// An unparseable close time is out of scope.
func InScope(rule model.MarketRule, closeTimeStr string, now time.Time) bool {
	if rule.Rule != "current_and_previous" || rule.WindowMinutes <= 0 {
		return true
	}

	closeDt, err := time.Parse(model.CloseTimeLayout, closeTimeStr)
	if err != nil {
		return false
	}

	window := time.Duration(rule.WindowMinutes) * time.Minute
	return !now.Before(closeDt.Add(-window))
}
