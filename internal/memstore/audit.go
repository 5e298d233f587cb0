package memstore

import (
	"context"

	"github.com/ariefcatur/pos-ticketing/internal/audit"
	"github.com/ariefcatur/pos-ticketing/internal/postgres"
)

type AuditRepo struct{ s *Store }

func (r *AuditRepo) Append(_ context.Context, q postgres.DBTX, e audit.Entry) error {
	defer r.s.lock(q)()
	r.s.data.audit = append(r.s.data.audit, e)
	return nil
}

// List returns matches newest first.
func (r *AuditRepo) List(_ context.Context, q postgres.DBTX, f audit.Filter) ([]audit.Entry, error) {
	defer r.s.lock(q)()
	out := []audit.Entry{}
	for i := len(r.s.data.audit) - 1; i >= 0; i-- {
		if e := r.s.data.audit[i]; f.Matches(e) {
			out = append(out, e)
		}
	}
	start, end := f.Page.Window(len(out))
	return out[start:end], nil
}
