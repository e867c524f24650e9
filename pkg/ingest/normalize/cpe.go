package normalize

import (
	"log/slog"
	"strings"

	"github.com/knqyf263/go-cpe/naming"
)

// canonicalCPE rebinds a CPE 2.3 formatted string or 2.2 URI to the 2.3
// formatted string form. Unparseable CPEs are dropped with a warning rather
// than failing the document: they only enrich packages, nothing correlates
// on them.
func canonicalCPE(s string) (string, bool) {
	if strings.HasPrefix(s, "cpe:2.3:") {
		wfn, err := naming.UnbindFS(s)
		if err != nil {
			slog.Warn("Drop invalid CPE", "cpe", s, "err", err)
			return "", false
		}
		return naming.BindToFS(wfn), true
	}
	wfn, err := naming.UnbindURI(s)
	if err != nil {
		slog.Warn("Drop invalid CPE", "cpe", s, "err", err)
		return "", false
	}
	return naming.BindToFS(wfn), true
}
