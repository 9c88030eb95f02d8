// Package fingerprint derives stable identifiers for documents, chunk
// records and collections.
//
// The fingerprint is path-based: it hashes the normalised document path and
// never the content, so every prior chunk of a changed document can be found
// by fingerprint alone before new chunks are written.
package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator joins a fingerprint and a chunk index in a record ID
const Separator = ":"

// indexWidth is the zero-padding width of chunk indexes, so record IDs of a
// document sort in chunk order
const indexWidth = 6

// NormalizePath canonicalises a document path: Unicode NFC, forward slashes,
// cleaned, with no leading "./" or "/".
func NormalizePath(p string) string {
	p = norm.NFC.String(p)
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Fingerprint returns the hex SHA-256 of the normalised path
func Fingerprint(documentPath string) string {
	sum := sha256.Sum256([]byte(NormalizePath(documentPath)))
	return hex.EncodeToString(sum[:])
}

// RecordID builds the ID of the chunkIndex-th record of a document
func RecordID(fp string, chunkIndex int) string {
	return fmt.Sprintf("%s%s%0*d", fp, Separator, indexWidth, chunkIndex)
}

// Prefix returns the ID prefix shared by every record of a fingerprint
func Prefix(fp string) string {
	return fp + Separator
}

// ParseRecordID splits a record ID into fingerprint and chunk index
func ParseRecordID(id string) (string, int, error) {
	i := strings.LastIndex(id, Separator)
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("invalid record id %q", id)
	}
	idx, err := strconv.Atoi(id[i+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("invalid chunk index in record id %q", id)
	}
	return id[:i], idx, nil
}

// CollectionID names the per-collection store instance. MD5 hex of the
// collection name keeps the on-disk layout of existing vaults.
func CollectionID(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
