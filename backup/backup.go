// Package backup exports an unlocked vault to portable plaintext documents
// and imports them back. The encoding is picked from the file extension:
//
//	.json         Document as JSON (also used for unknown extensions)
//	.yaml, .yml   Document as YAML
//	.txt, .uri    one otpauth:// URI per line
//
// A trailing .zst compresses any of them with zstd. Backups are not
// encrypted; callers must treat them as secrets.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/fahmaliyi/clockode/logging"
	"github.com/fahmaliyi/clockode/vault"
)

// Encoding is a backup file encoding.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingYAML
	EncodingURIList
)

func (e Encoding) String() string {
	switch e {
	case EncodingYAML:
		return "yaml"
	case EncodingURIList:
		return "otpauth"
	default:
		return "json"
	}
}

var now = time.Now

// DetectEncoding maps a path to its encoding and whether it is zstd
// compressed.
func DetectEncoding(path string) (Encoding, bool) {
	name := strings.ToLower(filepath.Base(path))
	compressed := strings.HasSuffix(name, ".zst")
	name = strings.TrimSuffix(name, ".zst")
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return EncodingYAML, compressed
	case ".txt", ".uri":
		return EncodingURIList, compressed
	default:
		return EncodingJSON, compressed
	}
}

// Export writes every account of h to path, replacing any existing file
// atomically with mode 0600.
func Export(h *vault.Handle, path string) error {
	accounts, err := h.Accounts()
	if err != nil {
		return err
	}
	defer wipeAccounts(accounts)

	enc, compressed := DetectEncoding(path)
	data, err := marshal(enc, accounts)
	if err != nil {
		return fmt.Errorf("backup: encode %s: %w", enc, err)
	}
	defer memguard.WipeBytes(data)

	if compressed {
		data, err = compress(data)
		if err != nil {
			return err
		}
	}
	if err := vault.WriteFileAtomic(path, data, 0o600); err != nil {
		return err
	}
	logging.Component("backup").Info("vault exported", "path", path, "encoding", enc, "zstd", compressed, "accounts", len(accounts))
	return nil
}

func marshal(enc Encoding, accounts []vault.Account) ([]byte, error) {
	switch enc {
	case EncodingURIList:
		return formatURIList(accounts), nil
	case EncodingYAML:
		return yaml.Marshal(newDocument(accounts, now()))
	default:
		return json.MarshalIndent(newDocument(accounts, now()), "", "  ")
	}
}

// Import reads a backup written by Export, or by hand in one of the same
// encodings, and applies it to h all or nothing. It returns how many
// accounts were added.
func Import(h *vault.Handle, path string, mode vault.ImportMode) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, &vault.IOError{Op: "read", Path: path, Err: err}
	}
	defer memguard.WipeBytes(raw)

	enc, compressed := DetectEncoding(path)
	if compressed {
		plain, err := decompress(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", vault.ErrImportValidationFailed, err)
		}
		defer memguard.WipeBytes(plain)
		raw = plain
	}

	accounts, err := unmarshal(enc, raw)
	if err != nil {
		return 0, err
	}
	defer wipeAccounts(accounts)

	n, err := h.ImportAccounts(accounts, mode)
	if err != nil {
		return 0, err
	}
	logging.Component("backup").Info("backup imported", "path", path, "encoding", enc, "mode", mode, "added", n)
	return n, nil
}

func unmarshal(enc Encoding, raw []byte) ([]vault.Account, error) {
	if enc == EncodingURIList {
		return parseURIList(raw)
	}
	var doc Document
	var err error
	if enc == EncodingYAML {
		err = yaml.Unmarshal(raw, &doc)
	} else {
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", vault.ErrImportValidationFailed, enc, err)
	}
	return doc.accounts()
}

func compress(data []byte) ([]byte, error) {
	zw, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("backup: create zstd writer: %w", err)
	}
	defer zw.Close()
	return zw.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	return zr.DecodeAll(data, nil)
}

func wipeAccounts(accounts []vault.Account) {
	for i := range accounts {
		memguard.WipeBytes(accounts[i].Secret)
	}
}
