// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package network

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/containerd/stargz-snapshotter/estargz"
	dockerconfig "github.com/docker/cli/cli/config"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/distribution/reference"
)

// interfaceVersionLabel is the launcher image label ContainerLauncher
// checks after a pull, the way a pinned base image asserts compatibility
// with its caller through a label rather than a tag convention alone.
const interfaceVersionLabel = "org.dfinity.icp-cli.launcher-interface"

// supportedInterfaceVersion is the only launcher interface this build
// knows how to drive.
const supportedInterfaceVersion = "1"

// stargzTOCDigestAnnotation is the conventional annotation an eStargz
// layer's manifest descriptor carries, recording the digest of its
// table-of-contents so a lazy puller can verify it without fetching the
// whole layer.
const stargzTOCDigestAnnotation = "containerd.io/snapshot/stargz/toc.digest"

// EnsureImage pulls ref into the daemon l.Client talks to, authenticating
// against the registry the way `docker login` would have left credentials
// for it, then checks the pulled image's interface-version label and, if
// present, verifies its top layer's eStargz table of contents.
func (l *ContainerLauncher) EnsureImage(ctx context.Context) error {
	named, err := reference.ParseDockerRef(l.Image)
	if err != nil {
		return fmt.Errorf("network: parse launcher image %q: %w", l.Image, err)
	}

	authStr, err := registryAuthFor(named)
	if err != nil {
		// Missing or unreadable docker config is not fatal: an anonymous
		// pull against a public registry still has a chance of working.
		authStr = ""
	}

	rc, err := l.Client.ImagePull(ctx, named.String(), image.PullOptions{RegistryAuth: authStr})
	if err != nil {
		return fmt.Errorf("network: pull %s: %w", named.String(), err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("network: pull %s: %w", named.String(), err)
	}

	inspect, raw, err := l.Client.ImageInspectWithRaw(ctx, named.String())
	if err != nil {
		return fmt.Errorf("network: inspect %s: %w", named.String(), err)
	}

	var cfg ocispec.Image
	if err := json.Unmarshal(raw, &cfg); err == nil {
		if v, ok := cfg.Config.Labels[interfaceVersionLabel]; ok && v != supportedInterfaceVersion {
			return fmt.Errorf("network: launcher image %s declares interface version %q, this build expects %q", named.String(), v, supportedInterfaceVersion)
		}
	}

	if err := l.verifyTOC(ctx, inspect.ID); err != nil {
		return fmt.Errorf("network: verify %s: %w", named.String(), err)
	}
	return nil
}

// registryAuthFor reads the local docker config (~/.docker/config.json,
// or $DOCKER_CONFIG) for credentials matching named's registry and
// encodes them the way the Docker Engine API expects on X-Registry-Auth.
func registryAuthFor(named reference.Named) (string, error) {
	cf, err := dockerconfig.Load("")
	if err != nil {
		return "", err
	}
	host := reference.Domain(named)
	ac, err := cf.GetAuthConfig(host)
	if err != nil {
		return "", err
	}
	buf, err := json.Marshal(registry.AuthConfig{
		Username:      ac.Username,
		Password:      ac.Password,
		Auth:          ac.Auth,
		ServerAddress: ac.ServerAddress,
		IdentityToken: ac.IdentityToken,
		RegistryToken: ac.RegistryToken,
	})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// verifyTOC saves imageID's topmost layer and, if it is an eStargz blob
// carrying a recorded TOC digest annotation, opens it and checks the
// digest matches before the image is trusted to launch a replica.
func (l *ContainerLauncher) verifyTOC(ctx context.Context, imageID string) error {
	rc, err := l.Client.ImageSave(ctx, []string{imageID})
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "icp-launcher-layer-*.tar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var lastLayer, wantDigest string
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch {
		case hdr.Name == "manifest.json":
			var manifests []struct {
				Layers      []string          `json:"Layers"`
				Annotations map[string]string `json:"Annotations"`
			}
			if err := json.NewDecoder(tr).Decode(&manifests); err == nil && len(manifests) > 0 {
				m := manifests[0]
				if len(m.Layers) > 0 {
					lastLayer = m.Layers[len(m.Layers)-1]
				}
				wantDigest = m.Annotations[stargzTOCDigestAnnotation]
			}
		case lastLayer != "" && hdr.Name == lastLayer:
			if _, err := io.Copy(tmp, tr); err != nil {
				return err
			}
		}
	}

	if wantDigest == "" {
		// Not a lazy-pullable eStargz image: nothing to verify.
		return nil
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	sr := io.NewSectionReader(tmp, 0, size)
	r, err := estargz.Open(sr)
	if err != nil {
		return fmt.Errorf("layer is not a valid eStargz image: %w", err)
	}
	if got := r.TOCDigest().String(); got != wantDigest {
		return fmt.Errorf("TOC digest mismatch: recorded %s, computed %s", wantDigest, got)
	}
	return nil
}
