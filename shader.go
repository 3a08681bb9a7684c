/*
Copyright 2026 The Hesiod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vkc

import (
	"encoding/binary"
	"io"
	"strings"

	"goarrg.com/asset"
	"goarrg.com/debug"

	"hesiod.dev/vkc/internal/util"
)

const spirvMagic uint32 = 0x07230203

// ShaderFileName maps a shader name to the file holding its SPIR-V.
func ShaderFileName(name string) string {
	if strings.HasSuffix(name, ".spv") {
		return name
	}
	return name + ".spv"
}

func parseSPIRV(name string, data []byte) ([]uint32, error) {
	if len(data) < 20 {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: SPIR-V too short [%d bytes]", name, len(data))
	}
	if (len(data) % 4) != 0 {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: SPIR-V length [%d] is not a multiple of 4", name, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: bad SPIR-V magic [0x%08X]", name, magic)
	}
	return util.BytesAsUint32(data), nil
}

// LoadSPIRV reads ${name}.spv from fsys.
func LoadSPIRV(fsys *asset.FileSystem, name string) ([]uint32, error) {
	fileName := ShaderFileName(name)
	instance.logger.VPrintf("Loading shader: %q", fileName)

	f, err := fsys.Open(fileName)
	if err != nil {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: %v", fileName, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, debug.ErrorWrapf(ErrorShaderBuildFailed{}, "%q: %v", fileName, err)
	}
	return parseSPIRV(fileName, data)
}
