package tools

// Capabilities are the external implementations backing the catalog.
type Capabilities struct {
	Web         WebClient
	Collections CollectionStore
	Documents   DocumentStore
	Media       MediaGenerator
}

// NewCatalog registers the full closed tool set over the given
// capabilities. Families with a nil capability are left out of the catalog.
func NewCatalog(caps Capabilities) *Registry {
	r := NewRegistry()
	if caps.Web != nil {
		r.Register(&WebSearchTool{Client: caps.Web})
		r.Register(&BrowsePageTool{Client: caps.Web})
		r.Register(&PropertyResearchTool{Client: caps.Web})
	}
	if caps.Collections != nil {
		r.Register(&CollectionCreateTool{Store: caps.Collections})
		r.Register(&CollectionListTool{Store: caps.Collections})
		r.Register(&CollectionAddItemTool{Store: caps.Collections})
		r.Register(&CollectionDeleteTool{Store: caps.Collections})
	}
	if caps.Documents != nil {
		r.Register(&DocumentCreateTool{Store: caps.Documents})
		r.Register(&DocumentGetTool{Store: caps.Documents})
		r.Register(&DocumentListTool{Store: caps.Documents})
		r.Register(&DocumentDeleteTool{Store: caps.Documents})
	}
	if caps.Media != nil {
		r.Register(&RetouchImagesTool{Media: caps.Media})
		r.Register(NewGenerateCreativeTool(caps.Media))
		r.Register(NewGenerateCreativeFromBundleTool(caps.Media))
		r.Register(NewGenerateStyleTool(caps.Media))
		r.Register(NewVocalTourTool(caps.Media))
	}
	return r
}
