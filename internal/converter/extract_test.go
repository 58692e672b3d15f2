package converter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLabels = ExtractLabels{
	NewAddressLabel: "Địa chỉ mới",
	CopyLabel:       "Sao chép",
}

func TestExtractNewName_StructuralMatch(t *testing.T) {
	html := `<div id="ketqua">
		<div class="row">
			<span class="label">Địa chỉ mới</span>
			<span class="value">Phường Ngọc Hà, Thành phố Hà Nội</span>
			<button class="copy">Sao chép</button>
		</div>
	</div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Phường Ngọc Hà", name)
}

func TestExtractNewName_SkipsCopyAffordance(t *testing.T) {
	html := `<div id="ketqua">
		<span>Địa chỉ mới</span>
		<button>Sao chép</button>
		<span>Xã Đường Lâm, Thành phố Hà Nội</span>
	</div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Xã Đường Lâm", name)
}

func TestExtractNewName_LenientPattern(t *testing.T) {
	// No structural label at all; the keyword heuristic over the section
	// text must still find the converted name
	html := `<div id="ketqua">
		<p>Kết quả chuyển đổi: Thị trấn Tây Đằng, Thành phố Hà Nội (cập nhật 2025)</p>
	</div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Thị trấn Tây Đằng", name)
}

func TestExtractNewName_LenientFirstMatchWins(t *testing.T) {
	// The lenient strategy takes the first keyword+comma match in the
	// section; the length threshold belongs to the exhaustive scan only
	html := `<div id="ketqua">
		<ul>
			<li>Phường Quang Trung, Tỉnh Phú Thọ</li>
			<li>Phường Nông Trang, Tỉnh Phú Thọ</li>
		</ul>
	</div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Phường Quang Trung", name)
}

func TestExtractNewName_TrimsTrailingQualifier(t *testing.T) {
	html := `<div><span>Địa chỉ mới</span><span>Phường Ngọc Hà, Thành phố Hà Nội</span></div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Phường Ngọc Hà", name)
}

func TestExtractNewName_NoMatch(t *testing.T) {
	html := `<div id="ketqua"><p>Không tìm thấy kết quả</p></div>`

	_, err := ExtractNewName(html, testLabels)
	require.Error(t, err)

	var extractErr *ExtractionFailedError
	assert.True(t, errors.As(err, &extractErr))
}

func TestExtractNewName_LabelWithoutAdjacentText(t *testing.T) {
	// Label present but nothing usable next to it; later strategies still
	// run over the rest of the section
	html := `<div id="ketqua">
		<div><span>Địa chỉ mới</span></div>
		<div>Xã Cổ Đô Mới, Thành phố Hà Nội</div>
	</div>`

	name, err := ExtractNewName(html, testLabels)
	require.NoError(t, err)
	assert.Equal(t, "Xã Cổ Đô Mới", name)
}
