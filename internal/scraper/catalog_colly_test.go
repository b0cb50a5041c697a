package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferregold/image-scraper/internal/catalog"
)

const vendorResultsPage = `<html><body>
<div class="list-group">
  <a href="product_info.php?products_id=42">
    <img class="img-responsive thumbnail group list-group-image" src="images/products/%s.jpg" alt="">
  </a>
  <a href="product_info.php?products_id=43">
    <img class="img-responsive thumbnail group list-group-image" src="images/products/other.jpg" alt="">
  </a>
</div>
</body></html>`

func newVendorServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keywords := r.URL.Query().Get("keywords")
		switch keywords {
		case "martillo":
			fmt.Fprintf(w, vendorResultsPage, "martillo")
		case "":
			http.Error(w, "missing keywords", http.StatusBadRequest)
		default:
			// Results page without any product thumbnails.
			fmt.Fprint(w, `<html><body><div class="list-group"></div></body></html>`)
		}
	}))
}

func newStaticUnderTest(srv *httptest.Server) *StaticCatalog {
	s := NewStaticCatalog(StaticConfig{Timeout: 2 * time.Second}, nil)
	s.searchBase = srv.URL + "/advanced_search_result.php"
	return s
}

func TestStaticCatalog_FindImage(t *testing.T) {
	t.Parallel()

	srv := newVendorServer(t)
	defer srv.Close()

	s := newStaticUnderTest(srv)
	src, err := s.FindImage(context.Background(), "martillo")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/images/products/martillo.jpg", src)
}

func TestStaticCatalog_NoThumbnailIsAMiss(t *testing.T) {
	t.Parallel()

	srv := newVendorServer(t)
	defer srv.Close()

	s := newStaticUnderTest(srv)
	_, err := s.FindImage(context.Background(), "no-such-product")
	require.ErrorIs(t, err, catalog.ErrNoResult)
}

func TestStaticCatalog_ServerErrorIsAMiss(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newStaticUnderTest(srv)
	_, err := s.FindImage(context.Background(), "martillo")
	require.ErrorIs(t, err, catalog.ErrNoResult)
}

func TestStaticCatalog_CanceledContextPropagates(t *testing.T) {
	t.Parallel()

	srv := newVendorServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newStaticUnderTest(srv)
	_, err := s.FindImage(ctx, "martillo")
	require.Error(t, err)
	require.False(t, errors.Is(err, catalog.ErrNoResult))
	require.ErrorIs(t, err, context.Canceled)
}
