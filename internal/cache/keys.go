package cache

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// keyVarRegex matches {{ ... }} template variables inside cache keys.
var keyVarRegex = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// KeyVars holds the values available to cache key templates.
type KeyVars struct {
	// Pipeline is the pipeline name.
	Pipeline string
	// Branch is the branch that triggered the run ("" on tag runs).
	Branch string
	// Tag is the tag that triggered the run ("" on branch runs).
	Tag string
	// Job is the name of the job evaluating the key.
	Job string
	// Root resolves relative checksum paths.
	Root string
}

// ExpandKey substitutes template variables in a cache key.
//
// Supported variables:
//
//	{{ pipeline }}         pipeline name
//	{{ branch }}           current branch
//	{{ tag }}              current tag
//	{{ job }}              job name
//	{{ checksum:<path> }}  blake2b digest of the file's content
//
// An unknown variable or unreadable checksum file is an error: a silently
// empty fragment would alias unrelated cache entries.
func ExpandKey(key string, vars KeyVars) (string, error) {
	var expandErr error
	expanded := keyVarRegex.ReplaceAllStringFunc(key, func(m string) string {
		name := strings.TrimSpace(keyVarRegex.FindStringSubmatch(m)[1])
		val, err := resolveVar(name, vars)
		if err != nil && expandErr == nil {
			expandErr = err
		}
		return val
	})
	if expandErr != nil {
		return "", expandErr
	}
	return expanded, nil
}

// ExpandKeys expands a list of candidate keys in order.
func ExpandKeys(keys []string, vars KeyVars) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		e, err := ExpandKey(k, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func resolveVar(name string, vars KeyVars) (string, error) {
	if path, ok := strings.CutPrefix(name, "checksum:"); ok {
		return fileChecksum(strings.TrimSpace(path), vars.Root)
	}
	switch name {
	case "pipeline":
		return vars.Pipeline, nil
	case "branch":
		return vars.Branch, nil
	case "tag":
		return vars.Tag, nil
	case "job":
		return vars.Job, nil
	default:
		return "", fmt.Errorf("unknown cache key variable %q", name)
	}
}

// fileChecksum returns a short blake2b digest of the file content.
func fileChecksum(path, root string) (string, error) {
	if !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

// keyHash names the storage directory for a key.
func keyHash(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
