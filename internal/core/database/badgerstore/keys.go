package badgerstore

import (
	"fmt"
	"net/url"
)

// Key prefixes. Tenant ids are path-escaped so a "/" inside one cannot
// widen a prefix scan into another tenant.
const (
	documentPrefix = "doc/"
	checksumPrefix = "tcs/"
	tenantDocIndex = "tdoc/"
	chunkPrefix    = "chunk/"
)

func documentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

// checksumKey maps (tenant, checksum) to the live document id.
func checksumKey(tenantID, checksum string) []byte {
	return []byte(checksumPrefix + url.PathEscape(tenantID) + "/" + checksum)
}

func tenantDocKey(tenantID, documentID string) []byte {
	return []byte(tenantDocIndex + url.PathEscape(tenantID) + "/" + documentID)
}

func tenantDocPrefix(tenantID string) []byte {
	return []byte(tenantDocIndex + url.PathEscape(tenantID) + "/")
}

// chunkKey zero-pads the position so prefix iteration yields document order.
func chunkKey(tenantID, documentID string, position int) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%08d", chunkPrefix, url.PathEscape(tenantID), documentID, position))
}

func tenantChunkPrefix(tenantID string) []byte {
	return []byte(chunkPrefix + url.PathEscape(tenantID) + "/")
}

func documentChunkPrefix(tenantID, documentID string) []byte {
	return []byte(chunkPrefix + url.PathEscape(tenantID) + "/" + documentID + "/")
}
