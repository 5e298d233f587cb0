package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/pos-ticketing/internal/apperr"
	"github.com/ariefcatur/pos-ticketing/internal/pagination"
	"github.com/go-playground/validator/v10"
)

func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validate(ctx context.Context, v *validator.Validate, payload any) error {
	err := v.StructCtx(ctx, payload)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return apperr.InvalidArgument("invalid request")
	}
	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = fmt.Sprintf("invalid '%s' with value '%v'", f.Field(), f.Value())
	}
	return apperr.InvalidArgument("%s", strings.Join(msgs, ", "))
}

// decode reads a JSON body. An empty body is allowed when optional is set.
func decode(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	}
	return apperr.InvalidArgument("invalid json body")
}

func queryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.InvalidArgument("%s must be an integer", name)
	}
	return &v, nil
}

// queryTime accepts RFC 3339 or a plain date. A plain date used as an upper
// bound covers the whole day.
func queryTime(r *http.Request, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.InvalidArgument("%s must be a date or RFC 3339 timestamp", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

type listQuery struct {
	From *time.Time
	To   *time.Time
	Page pagination.Page
}

func parseListQuery(r *http.Request) (listQuery, error) {
	var q listQuery
	var err error
	if q.From, err = queryTime(r, "from", false); err != nil {
		return q, err
	}
	if q.To, err = queryTime(r, "to", true); err != nil {
		return q, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return q, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return q, err
	}
	q.Page = pagination.New(limit, offset)
	return q, nil
}
