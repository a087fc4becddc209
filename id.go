package docex

import "github.com/tommyGPT2S/DocEX-sub002/id"

// ID is the primary identifier type for all pipeline entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
