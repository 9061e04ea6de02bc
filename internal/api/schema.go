package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const deploySchemaURL = "https://ledgerlink/schemas/deploy-contract-jars-v1.json"

//go:embed schemas/deploy-contract-jars-v1.json
var deploySchemaJSON string

var deploySchema = jsonschema.MustCompileString(deploySchemaURL, deploySchemaJSON)

// validateDeployRequest checks body against the request schema and returns
// one message per violation.
func validateDeployRequest(body []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []string{fmt.Sprintf("malformed JSON body: %v", err)}
	}
	if dec.More() {
		return []string{"malformed JSON body: unexpected data after the request object"}
	}

	err := deploySchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}

	var problems []string
	collectLeaves(verr, &problems)
	sort.Strings(problems)
	return problems
}

func collectLeaves(verr *jsonschema.ValidationError, out *[]string) {
	if len(verr.Causes) == 0 {
		*out = append(*out, fmt.Sprintf("%s: %s", fieldPath(verr.InstanceLocation), verr.Message))
		return
	}
	for _, c := range verr.Causes {
		collectLeaves(c, out)
	}
}

// fieldPath turns a JSON pointer such as /jarFiles/0/filename into
// jarFiles[0].filename.
func fieldPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "request"
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			fmt.Fprintf(&b, "[%s]", seg)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
