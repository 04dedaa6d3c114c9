package deb

// ControlField represents a field in a Debian control paragraph (binary, source or index).
type ControlField string

// Binary package fields, in the order they are written to a Packages index.
const (
	FieldPackage            ControlField = "Package"
	FieldSource             ControlField = "Source"
	FieldVersion            ControlField = "Version"
	FieldArchitecture       ControlField = "Architecture"
	FieldSection            ControlField = "Section"
	FieldPriority           ControlField = "Priority"
	FieldOrigin             ControlField = "Origin"
	FieldTag                ControlField = "Tag"
	FieldBugs               ControlField = "Bugs"
	FieldEssential          ControlField = "Essential"
	FieldBuildEssential     ControlField = "Build-Essential"
	FieldInstalledSize      ControlField = "Installed-Size"
	FieldMaintainer         ControlField = "Maintainer"
	FieldOriginalMaintainer ControlField = "Original-Maintainer"
	FieldDescription        ControlField = "Description"
	FieldDescriptionMD5     ControlField = "Description-md5"
	FieldHomepage           ControlField = "Homepage"
	FieldBuiltUsing         ControlField = "Built-Using"
	FieldAutoBuiltPackage   ControlField = "Auto-Built-Package"
	FieldMultiArch          ControlField = "Multi-Arch"
	FieldBreaks             ControlField = "Breaks"
	FieldConflicts          ControlField = "Conflicts"
	FieldDepends            ControlField = "Depends"
	FieldRecommends         ControlField = "Recommends"
	FieldSuggests           ControlField = "Suggests"
	FieldEnhances           ControlField = "Enhances"
	FieldPreDepends         ControlField = "Pre-Depends"
	FieldProvides           ControlField = "Provides"
	FieldReplaces           ControlField = "Replaces"
)

// Index-only fields appended to a binary paragraph when it is written to a Packages index.
const (
	FieldFilename ControlField = "Filename"
	FieldSize     ControlField = "Size"
	FieldMD5sum   ControlField = "MD5sum"
	FieldSHA1     ControlField = "SHA1"
	FieldSHA256   ControlField = "SHA256"
	FieldSHA512   ControlField = "SHA512"
)

// Source control (.dsc) fields.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#debian-source-control-files-dsc
const (
	FieldFormat              ControlField = "Format"
	FieldBinary              ControlField = "Binary"
	FieldUploaders           ControlField = "Uploaders"
	FieldVcsBrowser          ControlField = "Vcs-Browser"
	FieldVcsArch             ControlField = "Vcs-Arch"
	FieldVcsBzr              ControlField = "Vcs-Bzr"
	FieldVcsCvs              ControlField = "Vcs-Cvs"
	FieldVcsDarcs            ControlField = "Vcs-Darcs"
	FieldVcsGit              ControlField = "Vcs-Git"
	FieldVcsHg               ControlField = "Vcs-Hg"
	FieldVcsMtn              ControlField = "Vcs-Mtn"
	FieldVcsSvn              ControlField = "Vcs-Svn"
	FieldTestsuite           ControlField = "Testsuite"
	FieldDgit                ControlField = "Dgit"
	FieldStandardsVersion    ControlField = "Standards-Version"
	FieldBuildDepends        ControlField = "Build-Depends"
	FieldBuildDependsIndep   ControlField = "Build-Depends-Indep"
	FieldBuildDependsArch    ControlField = "Build-Depends-Arch"
	FieldBuildConflicts      ControlField = "Build-Conflicts"
	FieldBuildConflictsIndep ControlField = "Build-Conflicts-Indep"
	FieldBuildConflictsArch  ControlField = "Build-Conflicts-Arch"
	FieldPackageList         ControlField = "Package-List"
	FieldChecksumsSha1       ControlField = "Checksums-Sha1"
	FieldChecksumsSha256     ControlField = "Checksums-Sha256"
	FieldChecksumsSha512     ControlField = "Checksums-Sha512"
	FieldFiles               ControlField = "Files"
	FieldDirectory           ControlField = "Directory"
)

// ControlFile represents a standard file found in the control.tar.gz archive.
type ControlFile string

const (
	FileControl ControlFile = "control"
)

// PackageFile represents a standard file found in the .deb archive (ar format).
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTar   PackageFile = "control.tar"
	PkgControlTarGz PackageFile = "control.tar.gz"
	PkgControlTarXz PackageFile = "control.tar.xz"
)

// ReleaseField represents a standard field in a Debian Release file.
type ReleaseField string

const (
	RelOrigin        ReleaseField = "Origin"
	RelLabel         ReleaseField = "Label"
	RelSuite         ReleaseField = "Suite"
	RelVersion       ReleaseField = "Version"
	RelCodename      ReleaseField = "Codename"
	RelDate          ReleaseField = "Date"
	RelArchitectures ReleaseField = "Architectures"
	RelComponents    ReleaseField = "Components"
	RelDescription   ReleaseField = "Description"
	RelMD5Sum        ReleaseField = "MD5Sum"
	RelSHA1          ReleaseField = "SHA1"
	RelSHA256        ReleaseField = "SHA256"
	RelSHA512        ReleaseField = "SHA512"
)
