package collector

import (
	"github.com/cockroachdb/errors"

	"github.com/dmitriimaksimovdevelop/myscope/internal/parser"
)

// ErrStatementNotAllowed is returned for statements outside the command
// registry.
var ErrStatementNotAllowed = errors.New("statement not allowed")

// CheckStatement verifies that query is one of the registered diagnostic
// commands or their aliases. The collector only ever sends read-only SHOW
// statements; anything else is refused before it reaches the server.
func CheckStatement(query string) error {
	if _, ok := parser.Lookup(query); !ok {
		return errors.Wrapf(ErrStatementNotAllowed, "%q", query)
	}
	return nil
}
