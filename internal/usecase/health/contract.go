package health

import "context"

// DBPinger checks storage availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// MetadataChecker reports whether a collection exists physically.
type MetadataChecker interface {
	Exists(ctx context.Context, collection string) (bool, error)
}

// CachePinger checks document cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}
