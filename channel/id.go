// File: channel/id.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID identifies a channel for its whole life.
type ID uuid.UUID

// NewID returns a random channel ID.
func NewID() ID { return ID(uuid.New()) }

// ShortText is a compact form for log lines. It is not guaranteed unique.
func (id ID) ShortText() string { return hex.EncodeToString(id[12:]) }

// LongText is the full unique form.
func (id ID) LongText() string { return uuid.UUID(id).String() }

func (id ID) String() string { return id.ShortText() }
