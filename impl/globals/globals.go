package globals

// BlobsDir is the subdirectory under the image path where the registry backend
// stores layer blobs
const BlobsDir = "blobs"

// PartialSuffix is the suffix of a blob that is still being downloaded
const PartialSuffix = ".partial"
