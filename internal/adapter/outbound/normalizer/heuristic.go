package normalizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/i2y/merchanttools/internal/domain"
)

const (
	// maxSearchDepth bounds how far below the root items are looked for.
	maxSearchDepth = 5
	// maxVisitedNodes bounds the total work of one search.
	maxVisitedNodes = 10000
)

// containerFields are checked in order; the first present one is descended.
var containerFields = []string{"items", "products", "results", "data", "list", "records", "hits"}

var nameFields = []string{"name", "title", "product_name", "productName", "display_name", "displayName", "label"}

var idFields = []string{"id", "uid", "_id", "sku", "product_id", "productId", "item_id", "itemId", "slug", "code"}

var imageFields = []string{"image", "image_url", "imageUrl", "img", "thumbnail", "thumbnail_url", "thumbnailUrl", "picture", "featured_image", "featuredImage", "photo"}

var descriptionFields = []string{"description", "short_description", "shortDescription", "summary", "subtitle"}

var urlFields = []string{"url", "link", "product_url", "productUrl", "permalink", "href", "web_url"}

var categoryFields = []string{"category", "categories", "category_name", "categoryName", "product_type", "productType"}

var ratingFields = []string{"rating", "average_rating", "averageRating", "rating_value", "stars"}

var stockFields = []string{"in_stock", "inStock", "available", "is_available", "isAvailable", "sellable", "availability"}

var totalFields = []string{"total", "totalCount", "total_count", "totalItems", "total_items", "item_total", "nbHits", "count", "totalResults", "total_results"}

var paginationContainers = []string{"page", "pagination", "meta", "paging", "pageInfo"}

// price shapes, in lookup order.
var (
	currentPriceKeys  = []string{"effective", "current", "final", "discounted", "selling", "sale", "value", "amount"}
	originalPriceKeys = []string{"marked", "original", "mrp", "regular", "list", "compare_at", "compareAt"}
	flatPriceFields   = []string{"selling_price", "sellingPrice", "effective_price", "effectivePrice", "sale_price", "salePrice", "final_price", "finalPrice", "cost", "amount"}
	flatOriginalPrice = []string{"mrp", "marked_price", "markedPrice", "original_price", "originalPrice", "compare_at_price", "compareAtPrice", "list_price", "listPrice", "regular_price", "regularPrice"}
	discountFields    = []string{"discount", "discount_text", "discountText", "discount_percent", "discountPercent", "discount_percentage", "discountPercentage"}
)

// heuristicResult is the outcome of the structural walk.
type heuristicResult struct {
	items []domain.Item
	total int
}

type frame struct {
	value any
	depth int
}

// findItemArray searches payload for the first array whose elements look
// like items. It uses an explicit stack with a depth bound and a node budget
// so that any input terminates.
func findItemArray(payload any) []any {
	stack := []frame{{value: payload}}
	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if visited > maxVisitedNodes {
			return nil
		}
		if f.depth > maxSearchDepth {
			continue
		}

		switch node := f.value.(type) {
		case []any:
			if looksLikeItems(node) {
				return node
			}
			for i := len(node) - 1; i >= 0; i-- {
				if isContainer(node[i]) {
					stack = append(stack, frame{value: node[i], depth: f.depth + 1})
				}
			}
		case map[string]any:
			if field, ok := firstContainerField(node); ok {
				if arr, isArr := node[field].([]any); isArr && looksLikeItems(arr) {
					return arr
				}
				stack = append(stack, frame{value: node[field], depth: f.depth + 1})
				continue
			}
			keys := sortedKeys(node)
			for i := len(keys) - 1; i >= 0; i-- {
				if child := node[keys[i]]; isContainer(child) {
					stack = append(stack, frame{value: child, depth: f.depth + 1})
				}
			}
		}
	}
	return nil
}

func firstContainerField(node map[string]any) (string, bool) {
	for _, field := range containerFields {
		if v, ok := node[field]; ok && isContainer(v) {
			return field, true
		}
	}
	return "", false
}

func isContainer(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

// looksLikeItems reports whether arr holds objects with a name-like field.
func looksLikeItems(arr []any) bool {
	checked := 0
	for _, e := range arr {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := itemName(obj); ok {
			return true
		}
		checked++
		if checked >= 3 {
			break
		}
	}
	return false
}

// extractHeuristic runs the full fallback path on payload.
func extractHeuristic(payload any, candidates []any, currency string) heuristicResult {
	if candidates == nil {
		candidates = findItemArray(payload)
	}
	items := make([]domain.Item, 0, min(len(candidates), domain.MaxItems))
	for i, c := range candidates {
		if len(items) >= domain.MaxItems {
			break
		}
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := extractItem(obj, i, currency); ok {
			items = append(items, item)
		}
	}
	total, ok := findTotal(payload)
	if !ok {
		total = len(candidates)
	}
	return heuristicResult{items: items, total: total}
}

// extractItem maps one candidate object onto the canonical item shape.
func extractItem(obj map[string]any, index int, currency string) (domain.Item, bool) {
	name, ok := itemName(obj)
	if !ok || name == unknownProduct {
		return domain.Item{}, false
	}

	item := domain.Item{Name: name, Currency: currency}
	if id, ok := firstText(obj, idFields); ok {
		item.ID = id
	} else {
		item.ID = fmt.Sprintf("item-%d", index+1)
	}
	if c, ok := itemCurrency(obj); ok {
		item.Currency = c
	}

	item.Price = currentPrice(obj)
	item.OriginalPrice = originalPrice(obj)
	item.Discount = discount(obj, item.Price, item.OriginalPrice)
	item.Image = itemImage(obj)
	item.Description, _ = firstText(obj, descriptionFields)
	item.Brand = nameOf(obj["brand"])
	item.Category = itemCategory(obj)
	item.URL, _ = firstText(obj, urlFields)
	item.Rating = itemRating(obj)
	item.InStock = itemStock(obj)
	return item, true
}

func itemName(obj map[string]any) (string, bool) {
	for _, f := range nameFields {
		if s, ok := obj[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}

func firstText(obj map[string]any, fields []string) (string, bool) {
	for _, f := range fields {
		if s, ok := toText(obj[f]); ok {
			return s, true
		}
	}
	return "", false
}

func currentPrice(obj map[string]any) *float64 {
	switch p := obj["price"].(type) {
	case map[string]any:
		for _, key := range []string{"effective", "current"} {
			if sub, ok := p[key].(map[string]any); ok {
				if n := minMax(sub); n != nil {
					return n
				}
			}
		}
		if n := minMax(p); n != nil {
			return n
		}
		for _, key := range currentPriceKeys {
			if n := numberPtr(p[key]); n != nil {
				return n
			}
		}
	case nil:
	default:
		if n := numberPtr(p); n != nil {
			return n
		}
	}
	for _, f := range flatPriceFields {
		if n := numberPtr(obj[f]); n != nil {
			return n
		}
	}
	return nil
}

func originalPrice(obj map[string]any) *float64 {
	if p, ok := obj["price"].(map[string]any); ok {
		for _, key := range originalPriceKeys {
			if n := numberPtr(p[key]); n != nil {
				return n
			}
		}
	}
	for _, f := range flatOriginalPrice {
		if n := numberPtr(obj[f]); n != nil {
			return n
		}
	}
	return nil
}

// minMax reads a {min, max} range, preferring min.
func minMax(m map[string]any) *float64 {
	for _, key := range []string{"min", "max"} {
		if n := numberPtr(m[key]); n != nil {
			return n
		}
	}
	return nil
}

func discount(obj map[string]any, price, original *float64) string {
	for _, f := range discountFields {
		switch v := obj[f].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v > 0 {
				return formatDiscount(v)
			}
		case int:
			if v > 0 {
				return formatDiscount(float64(v))
			}
		}
	}
	if price != nil && original != nil && *original > *price && *original > 0 {
		return formatDiscount((*original - *price) / *original * 100)
	}
	return ""
}

func itemImage(obj map[string]any) string {
	if medias, ok := obj["medias"].([]any); ok && len(medias) > 0 {
		if s := resolveImage(medias[0]); s != "" {
			return s
		}
	}
	if s := resolveImage(obj["media"]); s != "" {
		return s
	}
	for _, f := range imageFields {
		if s := resolveImage(obj[f]); s != "" {
			return s
		}
	}
	if images, ok := obj["images"].([]any); ok && len(images) > 0 {
		return resolveImage(images[0])
	}
	return ""
}

// resolveImage accepts a URL string, an object with url/src, or a list of either.
func resolveImage(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		for _, key := range []string{"url", "src", "secure_url", "href"} {
			if s, ok := x[key].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		if len(x) > 0 {
			return resolveImage(x[0])
		}
	}
	return ""
}

// nameOf reads a label that may be a plain string or an object with a name.
func nameOf(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		for _, key := range []string{"name", "title", "label"} {
			if s, ok := x[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func itemCategory(obj map[string]any) string {
	for _, f := range categoryFields {
		switch v := obj[f].(type) {
		case []any:
			for _, e := range v {
				if s := nameOf(e); s != "" {
					return s
				}
			}
		default:
			if s := nameOf(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func itemRating(obj map[string]any) *float64 {
	for _, f := range ratingFields {
		switch v := obj[f].(type) {
		case map[string]any:
			for _, key := range []string{"average", "avg", "value", "rating"} {
				if n := numberPtr(v[key]); n != nil {
					return n
				}
			}
		default:
			if n := numberPtr(v); n != nil {
				return n
			}
		}
	}
	return nil
}

func itemStock(obj map[string]any) *bool {
	for _, f := range stockFields {
		if b, ok := toBool(obj[f]); ok {
			return &b
		}
	}
	for _, f := range []string{"stock", "quantity", "inventory_quantity"} {
		if n, ok := toNumber(obj[f]); ok {
			b := n > 0
			return &b
		}
	}
	return nil
}

func itemCurrency(obj map[string]any) (string, bool) {
	if s, ok := obj["currency"].(string); ok && s != "" {
		return s, true
	}
	if p, ok := obj["price"].(map[string]any); ok {
		if s, ok := p["currency"].(string); ok && s != "" {
			return s, true
		}
		for _, key := range []string{"effective", "current"} {
			if sub, ok := p[key].(map[string]any); ok {
				for _, ck := range []string{"currency_symbol", "currency"} {
					if s, ok := sub[ck].(string); ok && s != "" {
						return s, true
					}
				}
			}
		}
	}
	return "", false
}

// findTotal looks for a pagination total at the root or in a pagination block.
func findTotal(payload any) (int, bool) {
	root, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	scopes := []map[string]any{root}
	for _, key := range paginationContainers {
		if m, ok := root[key].(map[string]any); ok {
			scopes = append(scopes, m)
		}
	}
	for _, scope := range scopes {
		for _, f := range totalFields {
			if n, ok := toNumber(scope[f]); ok && n >= 0 {
				return int(n), true
			}
		}
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
