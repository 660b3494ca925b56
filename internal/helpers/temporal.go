package helpers

import (
	"fmt"
	"time"
)

// AppendDatetime prepends the current date and time to a query so agents
// have temporal context for time-sensitive operations. Agents are free to
// ignore the block when it is not relevant.
func AppendDatetime(query string) string {
	now := time.Now().UTC()
	stamp := now.Format("2006-01-02 15:04:05 UTC")
	day := now.Format("Monday, January 02, 2006")
	return fmt.Sprintf("[Current date and time: %s (%s)]\n\n%s", stamp, day, query)
}
