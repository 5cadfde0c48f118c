package manifests

import (
	"embed"
	"io/fs"
)

//go:embed manifests/*
var embeddedFiles embed.FS

var manifestsFS fs.FS

// FS returns a read-only filesystem holding the EKS connector agent
// kustomization.
func FS() fs.FS {
	return manifestsFS
}

func init() {
	var err error
	// Strip the path prefix so it starts at the kustomization root
	manifestsFS, err = fs.Sub(embeddedFiles, "manifests")
	if err != nil {
		panic("failed to create sub FS: " + err.Error())
	}
}
