package ingestion

import "strings"

// extensionMimeTypes maps a lowercased file extension (including the dot)
// to the MIME type the ingestion pipeline assigns it, an extension-switch
// approach to content-type detection rather than a MIME-sniffing library.
var extensionMimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".json": "application/json",
	".csv":  "text/csv",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// defaultMimeType is assigned when neither the extension map nor a
// declared MIME type is available (§4.C step 3).
const defaultMimeType = "application/octet-stream"

// deriveMimeType implements the fallback chain from spec.md §4.C:
// extension mapping, then declaredMime, then defaultMimeType.
func deriveMimeType(filename, declaredMime string) string {
	ext := strings.ToLower(extOf(filename))
	if mt, ok := extensionMimeTypes[ext]; ok {
		return mt
	}
	if declaredMime != "" {
		return declaredMime
	}
	return defaultMimeType
}

func extOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return filename[i:]
}
