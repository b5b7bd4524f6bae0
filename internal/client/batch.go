package client

import (
	"context"
	"fmt"
	"strings"

	"promptory/internal/services"
)

// PartialFailure is returned by BatchDelete when some ids could not be deleted.
type PartialFailure struct {
	Succeeded []string
	Failed    []services.BatchFailure
}

func (p *PartialFailure) Error() string {
	ids := make([]string, 0, len(p.Failed))
	for _, f := range p.Failed {
		ids = append(ids, f.ID)
	}
	return fmt.Sprintf("%d of %d deletes failed: %s",
		len(p.Failed), len(p.Failed)+len(p.Succeeded), strings.Join(ids, ", "))
}

// BatchDelete calls del for every id, in order, without stopping at the first
// failure. It returns nil when every call succeeded and a *PartialFailure
// otherwise. A cancelled ctx marks the remaining ids as failed.
func BatchDelete(ctx context.Context, ids []string, del func(ctx context.Context, id string) error) error {
	pf := &PartialFailure{Succeeded: []string{}, Failed: []services.BatchFailure{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			pf.Failed = append(pf.Failed, services.BatchFailure{ID: id, Reason: err.Error()})
			continue
		}
		if err := del(ctx, id); err != nil {
			pf.Failed = append(pf.Failed, services.BatchFailure{ID: id, Reason: message(err)})
			continue
		}
		pf.Succeeded = append(pf.Succeeded, id)
	}
	if len(pf.Failed) == 0 {
		return nil
	}
	return pf
}

func (c *Client) AdminDeletePrompts(ctx context.Context, ids []string) error {
	return BatchDelete(ctx, ids, c.AdminDeletePrompt)
}

func (c *Client) AdminDeleteCollections(ctx context.Context, ids []string) error {
	return BatchDelete(ctx, ids, c.AdminDeleteCollection)
}
