package loader

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/model"
)

// Defaults are the built-in configuration values, lowest merge priority.
type Defaults struct {
	WidgetURL string
	APIURL    string
	Position  model.Placement
}

// ResolveConfig produces the best-effort widget configuration for a page,
// synchronously. Merge order, ascending priority: built-in defaults, script
// tag data attributes, script src query parameters, the global override
// object. The resolved store identity is persisted to the session store
// keyed by page origin, and pages whose loader tag carries no parameters
// fall back to that cache, so the contract survives storefront navigation.
//
// A missing widget URL after the full merge is the one fatal outcome.
func ResolveConfig(ctx context.Context, page hostpage.Snapshot, def Defaults, store session.Store, ttl time.Duration, logger *zap.Logger) (model.WidgetConfiguration, error) {
	cfg := model.WidgetConfiguration{
		WidgetURL:   def.WidgetURL,
		APIURL:      def.APIURL,
		Position:    def.Position,
		StoreOrigin: page.Origin,
	}
	if cfg.Position == "" {
		cfg.Position = model.DefaultPlacement
	}

	// 1. Script tag: data attributes first, then src query parameters.
	if tag, ok := page.LoaderScript(); ok {
		applyAttr := func(dst *string, key string) {
			if v := strings.TrimSpace(tag.Attrs[key]); v != "" {
				*dst = v
			}
		}
		applyAttr(&cfg.WidgetURL, "widget-url")
		applyAttr(&cfg.APIURL, "api-url")
		applyAttr(&cfg.StoreID, "store-id")
		applyAttr(&cfg.StoreHash, "store-hash")
		applyAttr(&cfg.AppClientID, "app-client-id")
		applyAttr(&cfg.ChannelID, "channel-id")
		if v := strings.TrimSpace(tag.Attrs["position"]); v != "" {
			cfg.Position = model.NormalizePlacement(v)
		}

		if q := tag.Query(); q != nil {
			applyParam := func(dst *string, key string) {
				if v := strings.TrimSpace(q.Get(key)); v != "" {
					*dst = v
				}
			}
			applyParam(&cfg.StoreHash, "store_hash")
			applyParam(&cfg.AppClientID, "app_client_id")
			applyParam(&cfg.ChannelID, "channel_id")
			applyParam(&cfg.APIURL, "api_url")
			if v := strings.TrimSpace(q.Get("position")); v != "" {
				cfg.Position = model.NormalizePlacement(v)
			}
		}
	}

	// 2. Global override object, highest priority.
	applyOverride := func(dst *string, key string) {
		if v, ok := page.Override[key]; ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	applyOverride(&cfg.WidgetURL, "widgetUrl")
	applyOverride(&cfg.APIURL, "apiUrl")
	applyOverride(&cfg.StoreID, "storeId")
	applyOverride(&cfg.StoreHash, "storeHash")
	applyOverride(&cfg.AppClientID, "appClientId")
	applyOverride(&cfg.ChannelID, "channelId")
	applyOverride(&cfg.CustomerID, "customerId")
	applyOverride(&cfg.CustomerEmail, "customerEmail")
	applyOverride(&cfg.CurrentCustomerJWT, "currentCustomerJwt")
	if v, ok := page.Override["position"]; ok && strings.TrimSpace(v) != "" {
		cfg.Position = model.NormalizePlacement(v)
	}

	// 3. Session fallback for the store identity, then re-persist. Cache
	// failures are degraded operation, never fatal.
	if store != nil && page.Origin != "" {
		if cfg.StoreHash == "" || cfg.ChannelID == "" {
			cached, found, err := store.LoadStoreIdentity(ctx, page.Origin)
			if err != nil {
				logger.Warn("session store identity lookup failed", zap.Error(err))
			} else if found {
				if cfg.StoreHash == "" {
					cfg.StoreHash = cached.StoreHash
				}
				if cfg.ChannelID == "" {
					cfg.ChannelID = cached.ChannelID
				}
				if cfg.AppClientID == "" {
					cfg.AppClientID = cached.AppClientID
				}
				if cfg.APIURL == "" {
					cfg.APIURL = cached.APIURL
				}
			}
		}
		if id := (session.StoreIdentity{
			StoreHash:   cfg.StoreHash,
			ChannelID:   cfg.ChannelID,
			AppClientID: cfg.AppClientID,
			APIURL:      cfg.APIURL,
		}); !id.Empty() {
			if err := store.SaveStoreIdentity(ctx, page.Origin, id, ttl); err != nil {
				logger.Warn("session store identity save failed", zap.Error(err))
			}
		}
	}

	// 4. Customer hints from page globals, best-effort.
	for _, g := range page.CustomerGlobals {
		if strings.TrimSpace(g.ID) != "" {
			if cfg.CustomerID == "" {
				cfg.CustomerID = strings.TrimSpace(g.ID)
			}
			if cfg.CustomerEmail == "" {
				cfg.CustomerEmail = g.Email
			}
			break
		}
	}

	if cfg.WidgetURL == "" {
		return model.WidgetConfiguration{}, model.ErrMissingWidgetURL
	}
	return cfg, nil
}
