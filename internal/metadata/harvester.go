package metadata

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/client"
	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/models"
)

// Harvester builds the service catalog once at startup by fetching and
// parsing $metadata for every configured service root. It always acts as
// the technical user (discovery role).
type Harvester struct {
	client          *client.Client
	resolver        *destination.Resolver
	destinationName string
	serviceRoots    []string
	verbose         bool
}

// NewHarvester creates a harvester for the given service roots. Roots may
// be absolute URLs or paths relative to the resolved destination.
func NewHarvester(c *client.Client, resolver *destination.Resolver, destinationName string, serviceRoots []string, verbose bool) *Harvester {
	return &Harvester{
		client:          c,
		resolver:        resolver,
		destinationName: destinationName,
		serviceRoots:    serviceRoots,
		verbose:         verbose,
	}
}

// LoadCatalog fetches and parses every service root. A root whose metadata
// cannot be loaded is skipped with a warning so one broken service does not
// take the whole registry down; an error is returned only when nothing
// could be harvested at all.
func (h *Harvester) LoadCatalog(ctx context.Context) (*catalog.Catalog, *models.HarvestInfo, error) {
	ep, err := h.resolver.ForDiscovery(ctx, h.destinationName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve discovery destination: %w", err)
	}

	info := &models.HarvestInfo{
		ServiceRoots: h.serviceRoots,
		HarvestedAt:  time.Now().UTC(),
	}

	var services []*models.Service
	for _, root := range h.serviceRoots {
		svc, err := h.harvestOne(ctx, ep, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Skipping service %s: %v\n", root, err)
			info.Skipped = append(info.Skipped, root)
			continue
		}
		if h.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] Harvested %s: %d entity type(s)\n", svc.ID, len(svc.EntityTypes))
		}
		services = append(services, svc)
	}

	if len(services) == 0 {
		return nil, nil, fmt.Errorf("no service metadata could be harvested from %d root(s)", len(h.serviceRoots))
	}

	return catalog.New(services), info, nil
}

func (h *Harvester) harvestOne(ctx context.Context, ep *destination.Endpoint, root string) (*models.Service, error) {
	target := *ep
	relative := strings.TrimSuffix(root, "/") + "/" + constants.MetadataEndpoint
	serviceRoot := joinURL(ep.URL, root)

	if strings.HasPrefix(root, "http://") || strings.HasPrefix(root, "https://") {
		// Absolute root: bypass the destination base URL but keep its
		// credential.
		target.URL = strings.TrimSuffix(root, "/")
		relative = constants.MetadataEndpoint
		serviceRoot = root
	}

	data, err := h.client.GetRaw(ctx, &target, relative)
	if err != nil {
		return nil, err
	}
	return ParseService(data, serviceRoot)
}

func joinURL(base, relative string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(relative, "/")
}
