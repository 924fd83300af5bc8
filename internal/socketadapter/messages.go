// Package socketadapter implements the central per-WebSocket event loop:
// it decodes inbound control frames, drives the authentication pipeline,
// the SSH service, and the transfer manager, and pumps shell bytes in both
// directions under two independent flow-control mechanisms.
package socketadapter

// inboundEnvelope is the wire shape of every JSON control frame received
// from the browser. Fields not relevant to Kind are left zero.
type inboundEnvelope struct {
	Kind string `json:"kind"`

	// authenticate
	Username   string            `json:"username,omitempty"`
	Password   string            `json:"password,omitempty"`
	PrivateKey string            `json:"privateKey,omitempty"`
	Passphrase string            `json:"passphrase,omitempty"`
	Host       string            `json:"host,omitempty"`
	Port       int               `json:"port,omitempty"`
	SSOHeaders map[string]string `json:"ssoHeaders,omitempty"`

	// geometry / resize / terminal
	Rows int               `json:"rows,omitempty"`
	Cols int               `json:"cols,omitempty"`
	Term string            `json:"term,omitempty"`
	Env  map[string]string `json:"env,omitempty"`

	// data (raw shell input) — carried as a JSON string for text frames;
	// binary frames bypass the envelope entirely, see adapter.go.
	Data string `json:"data,omitempty"`

	// exec
	Command   string `json:"command,omitempty"`
	PTY       bool   `json:"pty,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`

	// control
	Control string `json:"control,omitempty"`

	// sftp-*
	TransferID string `json:"transferId,omitempty"`
	RemotePath string `json:"remotePath,omitempty"`
	Filename   string `json:"filename,omitempty"`
	TotalBytes int64  `json:"totalBytes,omitempty"`
	ChunkIndex int64  `json:"chunkIndex,omitempty"`
	ChunkData  string `json:"chunkData,omitempty"` // base64
	IsLast     bool   `json:"isLast,omitempty"`

	// hostkey-verify-response
	Action string `json:"action,omitempty"`
}

// Inbound message kinds, matching the external interface exactly.
const (
	kindAuthenticate         = "authenticate"
	kindGeometry             = "geometry"
	kindResize               = "resize"
	kindTerminal             = "terminal"
	kindData                 = "data"
	kindExec                 = "exec"
	kindControl              = "control"
	kindSFTPList             = "sftp-list"
	kindSFTPStat             = "sftp-stat"
	kindSFTPMkdir            = "sftp-mkdir"
	kindSFTPDelete           = "sftp-delete"
	kindSFTPUploadStart      = "sftp-upload-start"
	kindSFTPUploadChunk      = "sftp-upload-chunk"
	kindSFTPUploadCancel     = "sftp-upload-cancel"
	kindSFTPDownloadStart    = "sftp-download-start"
	kindSFTPDownloadCancel   = "sftp-download-cancel"
	kindHostkeyVerifyResp    = "hostkey-verify-response"
	kindDisconnect           = "disconnect"
)

// outbound is the wire shape of every JSON message sent to the browser.
// omitempty keeps each concrete message small; callers only set the fields
// relevant to Kind.
type outbound struct {
	Kind string `json:"kind"`

	Message string `json:"message,omitempty"`

	// authentication
	Success *bool    `json:"success,omitempty"`
	Prompts []string `json:"prompts,omitempty"`

	// permissions
	AutoLog        *bool `json:"autoLog,omitempty"`
	AllowReplay    *bool `json:"allowReplay,omitempty"`
	AllowReconnect *bool `json:"allowReconnect,omitempty"`
	AllowReauth    *bool `json:"allowReauth,omitempty"`

	// exec-data / exec-exit
	Type   string `json:"type,omitempty"` // stdout | stderr
	Data   string `json:"data,omitempty"`
	Code   int    `json:"code,omitempty"`
	Signal string `json:"signal,omitempty"`

	// hostkey-*
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Algorithm   string `json:"algorithm,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Source      string `json:"source,omitempty"`
	Presented   string `json:"presented,omitempty"`
	Stored      string `json:"stored,omitempty"`

	// sftp-progress / sftp-complete / sftp-error
	TransferID string  `json:"transferId,omitempty"`
	Bytes      int64   `json:"bytes,omitempty"`
	Total      int64   `json:"total,omitempty"`
	RatePerSec float64 `json:"ratePerSec,omitempty"`

	// prompt
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title,omitempty"`
	Buttons []string `json:"buttons,omitempty"`
	Inputs  []string `json:"inputs,omitempty"`
	Timeout int      `json:"timeout,omitempty"`
}

const (
	outKindData            = "data"
	outKindSSHError        = "ssherror"
	outKindAuthentication  = "authentication"
	outKindPermissions     = "permissions"
	outKindExecData        = "exec-data"
	outKindExecExit        = "exec-exit"
	outKindHostkeyVerify   = "hostkey-verify"
	outKindHostkeyVerified = "hostkey-verified"
	outKindHostkeyMismatch = "hostkey-mismatch"
	outKindHostkeyRejected = "hostkey-rejected"
	outKindHostkeyAlert    = "hostkey-alert"
	outKindSFTPProgress    = "sftp-progress"
	outKindSFTPComplete    = "sftp-complete"
	outKindSFTPError       = "sftp-error"
	outKindPrompt          = "prompt"
)

func boolPtr(b bool) *bool { return &b }
