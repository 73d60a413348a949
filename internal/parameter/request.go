package parameter

import "context"

// Getter is the single-call lookup contract shared by Cache and SharedCache.
type Getter interface {
	Get(ctx context.Context, key string, forceRefresh bool) (string, error)
}

// GetParameterRequest is a deferred Get call built with GetParameter.
//
//	value, err := c.GetParameter("/service/parameter").ForceRefresh().Send(ctx)
type GetParameterRequest struct {
	cache        Getter
	name         string
	forceRefresh bool
}

// NewRequest starts a request for the named parameter against any Getter.
func NewRequest(cache Getter, name string) *GetParameterRequest {
	return &GetParameterRequest{cache: cache, name: name}
}

// GetParameter starts a request for the named parameter.
func (c *Cache) GetParameter(name string) *GetParameterRequest {
	return NewRequest(c, name)
}

// ForceRefresh makes Send fetch from the backend even if a fresh value is
// cached, e.g. after the parameter was rotated.
func (r *GetParameterRequest) ForceRefresh() *GetParameterRequest {
	r.forceRefresh = true
	return r
}

// Send performs the lookup.
func (r *GetParameterRequest) Send(ctx context.Context) (string, error) {
	return r.cache.Get(ctx, r.name, r.forceRefresh)
}

// Name returns the requested parameter name.
func (r *GetParameterRequest) Name() string {
	return r.name
}

var (
	_ Getter = (*Cache)(nil)
	_ Getter = (*SharedCache)(nil)
)
