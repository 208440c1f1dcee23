// Package recraft proxies image requests to the Recraft API and charges them against the ledger.
package recraft

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

// ErrUnknownRoute reports a proxy path with no upstream mapping.
var ErrUnknownRoute = errors.New("unknown proxy route")

const styleVectorIllustration = "vector_illustration"

// Route maps a portal path to the priced operation and the upstream endpoint.
type Route struct {
	Name         string
	Operation    ledger.Operation
	UpstreamPath string
}

var routeTable = map[string]Route{
	"generations":        {Name: "generations", Operation: ledger.OperationRasterGeneration, UpstreamPath: "/images/generations"},
	"vectorize":          {Name: "vectorize", Operation: ledger.OperationVectorization, UpstreamPath: "/images/vectorize"},
	"remove-background":  {Name: "remove-background", Operation: ledger.OperationBackgroundRemoval, UpstreamPath: "/images/removeBackground"},
	"upscale":            {Name: "upscale", Operation: ledger.OperationClarityUpscale, UpstreamPath: "/images/clarityUpscale"},
	"generative-upscale": {Name: "generative-upscale", Operation: ledger.OperationGenerativeUpscale, UpstreamPath: "/images/generativeUpscale"},
	"styles":             {Name: "styles", Operation: ledger.OperationStyleCreation, UpstreamPath: "/styles"},
}

// ResolveRoute looks up a proxy path such as "/generations".
func ResolveRoute(path string) (Route, error) {
	name := strings.Trim(path, "/")
	route, ok := routeTable[name]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownRoute, path)
	}
	return route, nil
}

// PriceFor returns the operation to charge for a request with the given style.
// Raster generation in the vector illustration style is billed as a vector illustration.
func (route Route) PriceFor(style string) ledger.Operation {
	if route.Operation == ledger.OperationRasterGeneration && style == styleVectorIllustration {
		return ledger.OperationVectorIllustration
	}
	return route.Operation
}
