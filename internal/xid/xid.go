// Package xid generates prefixed unique ids for rows created by this
// service (prd, cst, sup, cpn, dsc, tkt, tkl, mvt, css, pur).
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<nanos>-<random hex>". The timestamp keeps ids
// roughly sortable by creation; the random suffix makes collisions
// within one nanosecond a non-issue.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
