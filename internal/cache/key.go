package cache

import "strconv"

// KeyPrefix is the common prefix of all cache keys.
const KeyPrefix = "docbase:"

// Keys builds cache keys for one namespace, database and tenant.
type Keys struct {
	Namespace string
	Database  string
	Tenant    int64
	HasTenant bool
}

// Root returns the prefix shared by every key of the database, all
// tenants included.
func (k Keys) Root() string {
	return KeyPrefix + k.Namespace + ":" + k.Database + ":"
}

// Collection returns the key under which every document of collection lives.
func (k Keys) Collection(collection string) string {
	key := KeyPrefix + k.Namespace + ":" + k.Database
	if k.HasTenant {
		key += ":t" + strconv.FormatInt(k.Tenant, 10)
	}
	return key + ":" + collection
}

// Document returns the key of one document.
func (k Keys) Document(collection, id string) string {
	return k.Prefix(collection) + id
}

// Prefix returns the prefix matching all document keys of collection.
func (k Keys) Prefix(collection string) string {
	return k.Collection(collection) + ":"
}
