package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/stratumgis/stratum/internal/domain"
	"github.com/stratumgis/stratum/internal/ports/output"
	"github.com/stratumgis/stratum/internal/uri"
)

// azureFS implements objectFS over an Azure Blob Storage container.
type azureFS struct {
	client    *azblob.Client
	container string
	prefix    string
}

// newAzureBackend builds the handle bundle for an azure catalog location.
// The storage account credentials come from the backend options.
func newAzureBackend(loc uri.Location, opts output.Options) (*output.Bundle, error) {
	accountName := opts[output.OptionAccountName]
	accountKey := opts[output.OptionAccountKey]
	if accountName == "" || accountKey == "" {
		return nil, &domain.BackendError{
			Backend:   "azure",
			Operation: "connect",
			Err:       fmt.Errorf("account_name and account_key options are required: %w", domain.ErrInvalidInput),
		}
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, &domain.BackendError{Backend: "azure", Operation: "connect", Err: err}
	}

	url := "https://" + accountName + ".blob.core.windows.net/"
	client, err := azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	if err != nil {
		return nil, &domain.BackendError{Backend: "azure", Operation: "connect", Err: err}
	}

	fs := &azureFS{
		client:    client,
		container: loc.Bucket,
		prefix:    loc.Prefix,
	}
	return newObjectBundle(fs, "azure"), nil
}

func (f *azureFS) read(ctx context.Context, path string) ([]byte, error) {
	resp, err := f.client.DownloadStream(ctx, f.container, f.fullKey(path), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}

func (f *azureFS) write(ctx context.Context, path string, data []byte) error {
	_, err := f.client.UploadStream(ctx, f.container, f.fullKey(path), bytes.NewReader(data), nil)
	return err
}

func (f *azureFS) list(ctx context.Context, dir string) ([]string, error) {
	prefix := f.fullKey(dir) + "/"

	var names []string
	pager := f.client.NewListBlobsFlatPager(f.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*blob.Name, prefix)
			// Flat listing; keep immediate children only.
			if name != "" && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// fullKey returns the full blob name including the catalog prefix.
func (f *azureFS) fullKey(path string) string {
	if f.prefix == "" {
		return path
	}
	return f.prefix + "/" + path
}
