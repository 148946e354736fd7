package images

import "strings"

// File extensions used across the storage layout.
const (
	ImageExt      = ".jpg"
	LabelExt      = ".txt"
	AnnotationExt = ".json"
)

// Storage key layout. All keys live in one bucket, namespaced per user
// under uploadRoot, with a shared training area.
const (
	uploadRoot = "uploads"

	dirHighConf    = "highconf"
	dirLowConf     = "lowconf"
	dirNoConf      = "no_conf"
	dirUnderReview = "under_review"
	dirVerified    = "verified"

	// TrainingImagePrefix accumulates images destined for retraining.
	TrainingImagePrefix = "training_data/new_data/images/"

	// TrainingLabelPrefix accumulates label files destined for retraining.
	// The retraining threshold counts objects under this prefix.
	TrainingLabelPrefix = "training_data/new_data/txt_files/"

	annotationRoot = "annotations"
)

// UserPrefix is the root of a user's upload namespace ("uploads/{user}/").
func UserPrefix(userID string) string {
	return uploadRoot + "/" + userID + "/"
}

// UploadRootPrefix is the prefix under which all per-user namespaces live.
func UploadRootPrefix() string {
	return uploadRoot + "/"
}

// statusDir maps a status to the directory segment encoding it.
func statusDir(status Status) string {
	switch status {
	case StatusHighConf:
		return dirHighConf
	case StatusLowConf:
		return dirLowConf
	case StatusUnderReview:
		return dirUnderReview
	case StatusVerified:
		return dirVerified
	default:
		return dirNoConf
	}
}

// StatusPrefix returns the key prefix holding a user's images in the
// given status, e.g. "uploads/alice/lowconf/".
func StatusPrefix(userID string, status Status) string {
	return UserPrefix(userID) + statusDir(status) + "/"
}

// ObjectKey returns the full storage key for an image in a status.
func ObjectKey(userID string, status Status, filename string) string {
	return StatusPrefix(userID, status) + filename
}

// AnnotationKey returns the key of the per-image annotation record.
func AnnotationKey(userID, imageName string) string {
	jsonName := strings.TrimSuffix(imageName, ImageExt) + AnnotationExt
	return annotationRoot + "/" + userID + "/" + jsonName
}

// TrainingImageKey returns the training-pool key for an image.
func TrainingImageKey(imageName string) string {
	return TrainingImagePrefix + imageName
}

// TrainingLabelKey returns the training-pool key for a label file.
func TrainingLabelKey(labelName string) string {
	return TrainingLabelPrefix + labelName
}

// UserIDFromPrefix extracts the user id from a folder-like listing entry
// of the form "uploads/{user}/". It returns "" for anything else.
func UserIDFromPrefix(prefix string) string {
	trimmed := strings.TrimPrefix(prefix, uploadRoot+"/")
	if trimmed == prefix {
		return ""
	}
	return strings.TrimSuffix(trimmed, "/")
}

// ClassifyKey reports which listing bucket a key belongs to for the
// per-user read path. Keys outside the three listed states return
// ("", false). Classification is by path segment, not the record store,
// so listings reflect what is physically present.
func ClassifyKey(key string) (Status, bool) {
	switch {
	case strings.Contains(key, "/"+dirHighConf+"/"):
		return StatusHighConf, true
	case strings.Contains(key, "/"+dirLowConf+"/"):
		return StatusLowConf, true
	case strings.Contains(key, "/"+dirVerified+"/"):
		return StatusVerified, true
	default:
		return "", false
	}
}
