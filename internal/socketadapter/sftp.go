package socketadapter

import (
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/sftp"

	"github.com/webssh-gateway/backend/internal/sshservice"
	"github.com/webssh-gateway/backend/internal/transfer"
)

// sftpOpenFlags returns the flags for opening the destination file for a
// given chunk index: the first chunk creates/truncates, every later chunk
// appends — safe because the transfer manager guarantees chunks arrive in
// strictly ascending, gapless order.
func sftpOpenFlags(chunkIndex int64) int {
	if chunkIndex == 0 {
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	return os.O_WRONLY | os.O_APPEND
}

// chunkOverheadBytes is the allowance on top of the base64-inflated chunk
// size described by the external interface: ceil(CHUNK_SIZE*1.34)+100.
const chunkOverheadBytes = 100
const base64Inflation = 1.34

func maxEncodedChunkLen(chunkSize int64) int {
	return int(math.Ceil(float64(chunkSize)*base64Inflation)) + chunkOverheadBytes
}

func (a *Adapter) handleSFTP(sessionID string, ctx *connContext, out *outboundWriter, env inboundEnvelope) {
	connID := ctx.getConnectionID()
	if connID == "" {
		a.sendSFTPError(out, env.TransferID, "sftp requires an established connection")
		return
	}
	handle, ok := a.pool.Get(connID)
	if !ok {
		a.sendSFTPError(out, env.TransferID, "connection no longer available")
		return
	}

	client, err := a.sshsvc.OpenSFTP(handle)
	if err != nil {
		a.sendSFTPError(out, env.TransferID, "open sftp: "+err.Error())
		return
	}
	defer client.Close()

	switch env.Kind {
	case kindSFTPList:
		a.sftpList(out, client, env)
	case kindSFTPStat:
		a.sftpStat(out, client, env)
	case kindSFTPMkdir:
		a.sftpMkdir(out, client, env)
	case kindSFTPDelete:
		a.sftpDelete(out, client, env)
	case kindSFTPUploadStart:
		a.sftpUploadStart(sessionID, ctx, out, env)
	case kindSFTPUploadChunk:
		a.sftpUploadChunk(ctx, out, client, env)
	case kindSFTPUploadCancel:
		a.sftpCancel(ctx, out, env, transfer.Upload)
	case kindSFTPDownloadStart:
		a.sftpDownloadStart(sessionID, ctx, out, client, env)
	case kindSFTPDownloadCancel:
		a.sftpCancel(ctx, out, env, transfer.Download)
	}
}

func (a *Adapter) sendSFTPError(out *outboundWriter, transferID, message string) {
	a.send(out, outbound{Kind: outKindSFTPError, TransferID: transferID, Message: message})
}

func (a *Adapter) checkRemotePath(out *outboundWriter, transferID, remotePath string) bool {
	if err := transfer.ValidateRemotePath(remotePath, a.cfg.SFTPAllowedPaths); err != nil {
		a.sendSFTPError(out, transferID, err.Error())
		return false
	}
	return true
}

func (a *Adapter) sftpList(out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	if !a.checkRemotePath(out, "", env.RemotePath) {
		return
	}
	entries, err := sshservice.ListDir(client, env.RemotePath)
	if err != nil {
		a.sendSFTPError(out, "", err.Error())
		return
	}
	a.send(out, outbound{Kind: outKindSFTPComplete, Message: fmt.Sprintf("%d entries", len(entries))})
}

func (a *Adapter) sftpStat(out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	if !a.checkRemotePath(out, "", env.RemotePath) {
		return
	}
	if _, err := sshservice.Stat(client, env.RemotePath); err != nil {
		a.sendSFTPError(out, "", err.Error())
		return
	}
	a.send(out, outbound{Kind: outKindSFTPComplete})
}

func (a *Adapter) sftpMkdir(out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	if !a.checkRemotePath(out, "", env.RemotePath) {
		return
	}
	if err := sshservice.Mkdir(client, env.RemotePath); err != nil {
		a.sendSFTPError(out, "", err.Error())
		return
	}
	a.send(out, outbound{Kind: outKindSFTPComplete})
}

func (a *Adapter) sftpDelete(out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	if !a.checkRemotePath(out, "", env.RemotePath) {
		return
	}
	if err := sshservice.Delete(client, env.RemotePath); err != nil {
		a.sendSFTPError(out, "", err.Error())
		return
	}
	a.send(out, outbound{Kind: outKindSFTPComplete})
}

func (a *Adapter) sftpUploadStart(sessionID string, ctx *connContext, out *outboundWriter, env inboundEnvelope) {
	if !a.checkRemotePath(out, env.TransferID, env.RemotePath) {
		return
	}
	if a.cfg.SFTPMaxFileSize > 0 && env.TotalBytes > a.cfg.SFTPMaxFileSize {
		a.sendSFTPError(out, env.TransferID, "file exceeds maxFileSize")
		return
	}
	if transfer.BlockedByExtension(env.Filename, a.cfg.SFTPBlockedExtensions) {
		a.sendSFTPError(out, env.TransferID, "file extension is blocked")
		return
	}

	_, err := a.transfers.StartTransfer(transfer.StartParams{
		TransferID:                env.TransferID,
		SessionID:                 sessionID,
		Direction:                 transfer.Upload,
		RemotePath:                env.RemotePath,
		Filename:                  env.Filename,
		TotalBytes:                env.TotalBytes,
		ChunkRateLimitBytesPerSec: a.cfg.SFTPChunkRateLimit,
	})
	if err != nil {
		a.sendSFTPError(out, env.TransferID, err.Error())
		return
	}
	if _, err := a.transfers.ActivateTransfer(env.TransferID); err != nil {
		a.sendSFTPError(out, env.TransferID, err.Error())
		return
	}
	ctx.trackTransfer(env.TransferID)
	a.send(out, outbound{Kind: outKindSFTPProgress, TransferID: env.TransferID, Bytes: 0, Total: env.TotalBytes})
}

func (a *Adapter) sftpUploadChunk(ctx *connContext, out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	maxLen := maxEncodedChunkLen(a.cfg.SFTPChunkSize)
	if len(env.ChunkData) > maxLen {
		a.sendSFTPError(out, env.TransferID, "chunk exceeds maximum encoded size")
		return
	}
	data, err := base64.StdEncoding.DecodeString(env.ChunkData)
	if err != nil {
		a.sendSFTPError(out, env.TransferID, "malformed chunk data")
		return
	}

	t, err := a.transfers.UpdateProgress(env.TransferID, env.ChunkIndex, int64(len(data)))
	if err != nil {
		a.sendSFTPError(out, env.TransferID, err.Error())
		return
	}

	if err := writeChunk(client, t.RemotePath, env.ChunkIndex, data); err != nil {
		a.sendSFTPError(out, env.TransferID, "write failed: "+err.Error())
		_ = a.transfers.FailTransfer(env.TransferID)
		ctx.untrackTransfer(env.TransferID)
		return
	}

	if env.IsLast {
		report, err := a.transfers.CompleteTransfer(env.TransferID)
		ctx.untrackTransfer(env.TransferID)
		if err != nil {
			a.sendSFTPError(out, env.TransferID, err.Error())
			return
		}
		a.send(out, outbound{
			Kind: outKindSFTPComplete, TransferID: env.TransferID,
			Bytes: report.BytesTransferred, RatePerSec: report.AverageBytesPerSec,
		})
		return
	}

	a.send(out, outbound{Kind: outKindSFTPProgress, TransferID: env.TransferID, Bytes: t.BytesTransferred, Total: t.TotalBytes})
}

// writeChunk opens the remote file (creating/truncating it on the first
// chunk, in append mode for subsequent ones) and writes data at the end.
// No offset is computed from chunkIndex; appending is safe because the
// manager has already verified chunkIndex is the expected next index.
func writeChunk(client *sftp.Client, remotePath string, chunkIndex int64, data []byte) error {
	flags := sftpOpenFlags(chunkIndex)
	f, err := client.OpenFile(remotePath, flags)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (a *Adapter) sftpDownloadStart(sessionID string, ctx *connContext, out *outboundWriter, client *sftp.Client, env inboundEnvelope) {
	if !a.checkRemotePath(out, env.TransferID, env.RemotePath) {
		return
	}
	info, err := client.Stat(env.RemotePath)
	if err != nil {
		a.sendSFTPError(out, env.TransferID, "stat failed: "+err.Error())
		return
	}
	if a.cfg.SFTPMaxFileSize > 0 && info.Size() > a.cfg.SFTPMaxFileSize {
		a.sendSFTPError(out, env.TransferID, "file exceeds maxFileSize")
		return
	}

	if _, err := a.transfers.StartTransfer(transfer.StartParams{
		TransferID:                env.TransferID,
		SessionID:                 sessionID,
		Direction:                 transfer.Download,
		RemotePath:                env.RemotePath,
		TotalBytes:                info.Size(),
		ChunkRateLimitBytesPerSec: a.cfg.SFTPChunkRateLimit,
	}); err != nil {
		a.sendSFTPError(out, env.TransferID, err.Error())
		return
	}
	if _, err := a.transfers.ActivateTransfer(env.TransferID); err != nil {
		a.sendSFTPError(out, env.TransferID, err.Error())
		return
	}
	ctx.trackTransfer(env.TransferID)

	go a.streamDownload(ctx, out, client, env.TransferID, env.RemotePath, info.Size())
}

func (a *Adapter) streamDownload(ctx *connContext, out *outboundWriter, client *sftp.Client, transferID, remotePath string, totalBytes int64) {
	defer ctx.untrackTransfer(transferID)

	f, err := client.Open(remotePath)
	if err != nil {
		a.sendSFTPError(out, transferID, "open failed: "+err.Error())
		_ = a.transfers.FailTransfer(transferID)
		return
	}
	defer f.Close()

	chunkSize := a.cfg.SFTPChunkSize
	if chunkSize <= 0 {
		chunkSize = 256 << 10
	}
	buf := make([]byte, chunkSize)
	var chunkIndex int64

	for {
		if _, ok := a.transfers.Get(transferID); !ok {
			return // cancelled
		}
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			t, progressErr := a.transfers.UpdateProgress(transferID, chunkIndex, int64(n))
			if progressErr != nil {
				a.sendSFTPError(out, transferID, progressErr.Error())
				return
			}
			a.send(out, outbound{
				Kind: outKindSFTPProgress, TransferID: transferID,
				Data: base64.StdEncoding.EncodeToString(buf[:n]), Bytes: t.BytesTransferred, Total: totalBytes,
			})
			chunkIndex++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			report, completeErr := a.transfers.CompleteTransfer(transferID)
			if completeErr != nil {
				a.sendSFTPError(out, transferID, completeErr.Error())
				return
			}
			a.send(out, outbound{
				Kind: outKindSFTPComplete, TransferID: transferID,
				Bytes: report.BytesTransferred, RatePerSec: report.AverageBytesPerSec,
			})
			return
		}
		if readErr != nil {
			a.sendSFTPError(out, transferID, "read failed: "+readErr.Error())
			_ = a.transfers.FailTransfer(transferID)
			return
		}
	}
}

func (a *Adapter) sftpCancel(ctx *connContext, out *outboundWriter, env inboundEnvelope, direction transfer.Direction) {
	_ = a.transfers.CancelTransfer(env.TransferID)
	ctx.untrackTransfer(env.TransferID)
	a.send(out, outbound{Kind: outKindSFTPComplete, TransferID: env.TransferID, Message: string(direction) + " cancelled"})
}
