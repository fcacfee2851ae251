package recommender

import (
	"regexp"
	"strings"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
)

// groupSuffix matches a trailing replica index like "-1", "_02" or ".3".
var groupSuffix = regexp.MustCompile(`[-_.]?\d+$`)

// NormalizeGroupKey reduces a server name to its logical group: lowercase
// with the trailing replica index removed, so "staging-web-1" and
// "Staging-Web-2" land in the same group.
func NormalizeGroupKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return groupSuffix.ReplaceAllString(key, "")
}

// nonProdPattern matches environment markers that exclude a machine from
// production guarantees.
var nonProdPattern = regexp.MustCompile(`(?i)(^|[-_./])(staging|stage|stg|dev|development|test|testing|sandbox|demo|uat)($|[-_./])`)

var nonProdEnvValues = map[string]bool{
	"staging": true, "stage": true, "stg": true,
	"dev": true, "development": true,
	"test": true, "testing": true,
	"sandbox": true, "demo": true, "uat": true,
}

// IsNonProduction reports whether a server is marked as a non-production
// environment, either by an env label or by its name. Anything ambiguous
// counts as production.
func IsNonProduction(server *models.Server) bool {
	for _, key := range []string{"env", "environment"} {
		if v, ok := server.Labels[key]; ok {
			return nonProdEnvValues[strings.ToLower(v)]
		}
	}
	return nonProdPattern.MatchString(server.Name)
}
