// Package imagelist resolves the list of images to pull from the configuration
// and an optional image list file.
package imagelist

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	log "github.com/sirupsen/logrus"
)

// Resolve returns the passed images followed by the images in imageFile (if not
// empty). Every image must be a valid image reference. Duplicates, compared by
// fully qualified name, are dropped with a warning so each image is pulled once.
func Resolve(images []string, imageFile string) ([]string, error) {
	all := append([]string(nil), images...)
	if imageFile != "" {
		fromFile, err := ReadFile(imageFile)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	seen := make(map[string]bool)
	var res []string
	for _, image := range all {
		image = strings.TrimSpace(image)
		if image == "" {
			continue
		}
		ref, err := name.ParseReference(image)
		if err != nil {
			return nil, fmt.Errorf("invalid image reference %q: %w", image, err)
		}
		// "alpine" and "docker.io/library/alpine:latest" are the same image
		if seen[ref.Name()] {
			log.Warnf("ignoring duplicate image: %s", image)
			continue
		}
		seen[ref.Name()] = true
		res = append(res, image)
	}
	return res, nil
}

// ReadFile reads one image per line. Blank lines and lines starting with '#'
// are skipped, as is anything after a '#' on a line.
func ReadFile(imageFile string) ([]string, error) {
	f, err := os.Open(imageFile)
	if err != nil {
		return nil, fmt.Errorf("unable to open image file: %w", err)
	}
	defer f.Close()
	var images []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			images = append(images, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading image file %s: %w", imageFile, err)
	}
	return images, nil
}
