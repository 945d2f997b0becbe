package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartreply-crm/internal/auth"
)

const csvHeader = "Name,Phone,Status,Priority,Assigned To,Last Message,Last Message Time,Remark\n"

// ExportCSV renders the contacts the session can see, one row each after
// the header. Values are written as-is: fields containing commas are not
// quoted, matching the dashboard's own export.
func (s *Service) ExportCSV(ctx context.Context, sess *auth.Session, clientID string) ([]byte, error) {
	if err := sess.Require(auth.CapExportContacts); err != nil {
		return nil, err
	}
	contacts, _, err := s.ListContacts(ctx, sess, ListFilter{ClientID: clientID})
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(csvHeader)
	for _, c := range contacts {
		assigned := ""
		if c.AssignedTo != nil {
			assigned = c.AssignedTo.Name
		}
		lastTime := ""
		if c.LastMessageTime != nil {
			lastTime = c.LastMessageTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%s,%s,%s\n",
			oneLine(c.Name), c.Phone, c.Status, c.Priority, oneLine(assigned),
			oneLine(c.LastMessage), lastTime, oneLine(c.Remark))
	}
	return []byte(b.String()), nil
}

// oneLine keeps multi-line text from breaking the row count.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
