// Package docbase is a schema-on-write document database layered over a
// relational store. Open wires a storage adapter, an optional document
// cache and metrics into a Client whose methods manage collections,
// attributes, indexes, relationships and documents.
//
//	c, err := docbase.Open(ctx, docbase.WithPostgres(dsn), docbase.WithNamespace("app"))
//	if err != nil { ... }
//	defer c.Close()
//	_, err = c.CreateCollection(ctx, "books", attrs, nil, perms, false)
package docbase
