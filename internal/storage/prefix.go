package storage

import "context"

type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix namespaces every key of inner under prefix.
func WithPrefix(inner Store, prefix string) Store {
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Apply(ctx context.Context, m Mutation) error {
	out := Mutation{}
	if len(m.Set) > 0 {
		out.Set = make(map[string]string, len(m.Set))
		for k, v := range m.Set {
			out.Set[p.prefix+k] = v
		}
	}
	for _, k := range m.Delete {
		out.Delete = append(out.Delete, p.prefix+k)
	}
	return p.inner.Apply(ctx, out)
}

func (p *prefixed) Ping(ctx context.Context) error {
	return p.inner.Ping(ctx)
}
