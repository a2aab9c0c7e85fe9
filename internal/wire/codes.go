package wire

// Code identifies the variant of a message carried inside (or, for the first four handshake
// messages, alongside) an envelope.
type Code byte

// The recognised message codes (§3 "Operation messages", §4.5).
const (
	ACK  Code = 0x01
	NACK Code = 0x02

	LogoutRequest Code = 0x03

	AuthRequest Code = 0x04

	ListRequest  Code = 0x10
	ListAck      Code = 0x11
	ListResponse Code = 0x12

	DownloadRequest Code = 0x20
	DownloadAck     Code = 0x21
	FileNotFound    Code = 0x22
	DownloadChunk   Code = 0x23

	UploadRequest         Code = 0x30
	UploadChunk           Code = 0x31
	FilenameAlreadyExists Code = 0x32

	RenameRequest    Code = 0x40
	FileAlreadyExists Code = 0x41

	DeleteRequest      Code = 0x50
	DeleteAsk          Code = 0x51
	DeleteConfirm      Code = 0x52
	NoDeleteConfirm    Code = 0x53
	DeleteFileError    Code = 0x54
	FilenameNotFound   Code = 0x55
)

func (c Code) String() string {
	switch c {
	case ACK:
		return "ACK"
	case NACK:
		return "NACK"
	case LogoutRequest:
		return "LOGOUT_REQUEST"
	case AuthRequest:
		return "AUTH_REQUEST"
	case ListRequest:
		return "LIST_REQUEST"
	case ListAck:
		return "LIST_ACK"
	case ListResponse:
		return "LIST_RESPONSE"
	case DownloadRequest:
		return "DOWNLOAD_REQUEST"
	case DownloadAck:
		return "DOWNLOAD_ACK"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	case DownloadChunk:
		return "DOWNLOAD_CHUNK"
	case UploadRequest:
		return "UPLOAD_REQUEST"
	case UploadChunk:
		return "UPLOAD_CHUNK"
	case FilenameAlreadyExists:
		return "FILENAME_ALREADY_EXISTS"
	case RenameRequest:
		return "RENAME_REQUEST"
	case FileAlreadyExists:
		return "FILE_ALREADY_EXISTS"
	case DeleteRequest:
		return "DELETE_REQUEST"
	case DeleteAsk:
		return "DELETE_ASK"
	case DeleteConfirm:
		return "DELETE_CONFIRM"
	case NoDeleteConfirm:
		return "NO_DELETE_CONFIRM"
	case DeleteFileError:
		return "DELETE_FILE_ERROR"
	case FilenameNotFound:
		return "FILENAME_NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}
