package cloud

import (
	"context"
	"fmt"
)

// Page is one parsed listing response.
type Page struct {
	Items     []*Item
	NextToken string // empty on the last page
}

// PageFunc fetches one listing page. token is empty on the first call and
// otherwise the NextToken of the previous page.
type PageFunc func(ctx context.Context, token string) (Page, error)

// ListInto drives fetch until the listing is exhausted, appending each page
// after the folder's current children in order. Page N+1 is requested only
// after page N has been appended. A failing page stops the loop; children
// appended from earlier pages are kept.
func ListInto(ctx context.Context, folder *Item, fetch PageFunc) error {
	if !folder.IsFolder() {
		return fmt.Errorf("%w: cannot list file %q", ErrInvalidTree, folder.Name)
	}

	var token string

	for page := 1; ; page++ {
		p, err := fetch(ctx, token)
		if err != nil {
			return fmt.Errorf("cloud: listing %q page %d: %w", folder.Name, page, err)
		}

		if err := folder.AppendChildren(p.Items...); err != nil {
			return err
		}

		if p.NextToken == "" {
			return nil
		}

		token = p.NextToken
	}
}
