package destination

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/c4m-data/actionhub/internal/config"
	"github.com/c4m-data/actionhub/internal/ledger"
	"github.com/c4m-data/actionhub/internal/logging"
	"github.com/c4m-data/actionhub/internal/source"
	"github.com/c4m-data/actionhub/internal/trigger"
	"github.com/c4m-data/actionhub/internal/warehouse"
)

// RemoteFS is the subset of an SFTP session the adapter drives.
type RemoteFS interface {
	Create(filePath string) (io.WriteCloser, error)
	Close() error
}

type sshRemote struct {
	conn   *ssh.Client
	client *sftp.Client
}

func (r *sshRemote) Create(filePath string) (io.WriteCloser, error) {
	return r.client.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (r *sshRemote) Close() error {
	err := r.client.Close()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// DialSFTP opens an SFTP session with password auth. The drop servers do not
// publish host keys, so host key verification is disabled, matching the
// upstream file exchange contract.
func DialSFTP(host string, port int, creds config.SFTPCredentials) (RemoteFS, error) {
	conn, err := ssh.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)), &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("sftp dial %s: %w", host, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	return &sshRemote{conn: conn, client: client}, nil
}

// SFTPAdapter delivers report files to a per-brand SFTP drop, optionally
// mirroring each chunk into a warehouse table named in the request.
type SFTPAdapter struct {
	Config    config.Config
	Warehouse warehouse.Client

	// Dial overrides the SFTP transport, for tests. Nil means DialSFTP.
	Dial func(host string, port int, creds config.SFTPCredentials) (RemoteFS, error)
}

func (a *SFTPAdapter) Channel() string {
	return ledger.ChannelMarketing
}

// CampaignCode reads the campaign identifier from the report itself. An
// empty report has no campaign and returns "", which disables the
// once-per-day check for the run.
func (a *SFTPAdapter) CampaignCode(req *trigger.DeliveryRequest, first *source.Chunk) (string, error) {
	if first == nil || first.Empty() {
		return "", nil
	}
	code := first.Field(first.Rows[0], ColumnCampaignCode)
	if code == "" {
		return "", fmt.Errorf("report has no %s column", ColumnCampaignCode)
	}
	return code, nil
}

func (a *SFTPAdapter) Ensure(ctx context.Context, req *trigger.DeliveryRequest) (Handle, error) {
	creds, err := a.Config.SFTPCredentials(req.Brand)
	if err != nil {
		return nil, err
	}

	dial := a.Dial
	if dial == nil {
		dial = DialSFTP
	}
	remote, err := dial(a.Config.SFTP.Host, a.Config.SFTP.Port, creds)
	if err != nil {
		return nil, err
	}

	name := SanitizeFilename(fmt.Sprintf("%s_%s.csv", req.ReportTitle, trigger.Now().Format("20060102_150405")))
	file, err := remote.Create(path.Join(req.PathSFTP, name))
	if err != nil {
		remote.Close()
		return nil, fmt.Errorf("sftp create %s: %w", name, err)
	}
	logging.WithContext(ctx).WithAction(req.Action).WithBrand(req.Brand).
		Infof("%s created on SFTP server", name)

	return &sftpHandle{
		req:         req,
		warehouse:   a.Warehouse,
		remote:      remote,
		file:        file,
		name:        name,
		sinkEnabled: req.SendToWarehouse(),
	}, nil
}

type sftpHandle struct {
	req       *trigger.DeliveryRequest
	warehouse warehouse.Client
	remote    RemoteFS
	file      io.WriteCloser
	name      string

	// sinkEnabled is cleared after the first failed warehouse load so one
	// bad chunk does not poison every following one.
	sinkEnabled bool
}

// Send appends the chunk to the remote file, header on chunk 1 only, then
// mirrors the rows into the requested warehouse table. A sink failure is
// returned for the run record but the file write has already happened.
func (h *sftpHandle) Send(ctx context.Context, chunk *source.Chunk) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if chunk.Seq == 1 {
		if err := w.Write(chunk.Header); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	}
	for _, row := range chunk.Rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	if _, err := h.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("sftp write %s: %w", h.name, err)
	}

	if !h.sinkEnabled || chunk.Empty() {
		return nil
	}
	records, err := h.sinkRecords(chunk)
	if err != nil {
		h.sinkEnabled = false
		return err
	}
	if err := h.warehouse.Append(ctx, h.req.DatasetID, h.req.TableID, ledger.Columns, ledger.Rows(records)); err != nil {
		h.sinkEnabled = false
		return fmt.Errorf("warehouse sink %s.%s: %w", h.req.DatasetID, h.req.TableID, err)
	}
	return nil
}

func (h *sftpHandle) sinkRecords(chunk *source.Chunk) ([]ledger.AuditRecord, error) {
	records := make([]ledger.AuditRecord, 0, len(chunk.Rows))
	for _, row := range chunk.Rows {
		desc, err := chunk.RowJSON(row, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, ledger.NewRecord(
			chunk.Field(row, ColumnCustomerCode),
			chunk.Field(row, ColumnCampaignCode),
			h.req.Brand,
			ledger.ChannelMarketing,
			desc,
		))
	}
	return records, nil
}

// Records returns nil: the file drop audits through its own sink table, not
// the shared ledger.
func (h *sftpHandle) Records(chunk *source.Chunk) ([]ledger.AuditRecord, error) {
	return nil, nil
}

func (h *sftpHandle) Finalize(ctx context.Context) error {
	err := h.file.Close()
	if cerr := h.remote.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("sftp close %s: %w", h.name, err)
	}
	logging.WithContext(ctx).WithBrand(h.req.Brand).Infof("%s closed", h.name)
	return nil
}
